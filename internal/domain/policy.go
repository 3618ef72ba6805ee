package domain

import "time"

type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// PolicyRule matches an identity and a requested action/resource pair.
// Patterns are globs over the subject SPIFFE ID, action and resource.
// Condition is an optional attribute expression evaluated against the
// subject, trust domain and request context; an empty condition always
// holds.
type PolicyRule struct {
	ID              string
	Effect          PolicyEffect
	SubjectPattern  string
	ActionPattern   string
	ResourcePattern string
	Condition       string
	CreatedAt       time.Time
}

// RuleSet is an immutable snapshot of the policy rules at a version.
// Writers publish a whole new snapshot; readers evaluate against exactly
// one snapshot for the duration of a request.
type RuleSet struct {
	Version int64
	Rules   []PolicyRule
}

type Decision struct {
	Allow         bool      `json:"allow"`
	Reason        string    `json:"reason"`
	RuleID        string    `json:"rule_id,omitempty"`
	PolicyVersion int64     `json:"policy_version"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

const (
	ReasonNoMatchingPolicy    = "no matching policy"
	ReasonExplicitDeny        = "explicit deny"
	ReasonNoActiveFederation  = "no active federation relationship"
	ReasonChainInvalid        = "certificate chain invalid for peer domain"
	ReasonConditionEvalFailed = "policy condition evaluation failed"
)
