package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trustplane/internal/domain"

	"github.com/gobwas/glob"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// DecisionRequest is one authorization question. Cross-domain subjects must
// present their identity document chain in ChainDER so the engine can check
// it against the locally held peer bundle.
type DecisionRequest struct {
	SubjectID string            `json:"subject_id"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	Context   map[string]string `json:"context,omitempty"`
	ChainDER  [][]byte          `json:"cert_chain,omitempty"`
}

// FederationChecker reports whether a peer trust domain is currently Active.
type FederationChecker interface {
	PeerActive(trustDomain string) bool
}

// ChainVerifier validates a presented certificate chain and returns the
// identity it attests. DocumentVerifier satisfies it.
type ChainVerifier interface {
	Verify(ctx context.Context, chainDER [][]byte, sensitive bool) (VerifyResult, error)
}

// PolicyEngine answers allow/deny questions against the current rule set.
// Evaluation is deterministic: any matching deny wins, an allow requires at
// least one matching allow rule and no matching deny, and no match at all
// is a deny.
type PolicyEngine struct {
	Rules      PolicyRuleRepository
	Cache      DecisionCache
	CacheTTL   time.Duration
	Conditions ConditionEvaluator
	Federation FederationChecker
	Verifier   ChainVerifier
	Local      spiffeid.TrustDomain
	Audit      *AuditEmitter
	Clock      Clock

	snapshot atomic.Pointer[compiledRuleSet]
	reloadMu sync.Mutex
}

type compiledRuleSet struct {
	version int64
	rules   []compiledRule
}

type compiledRule struct {
	rule     domain.PolicyRule
	subject  glob.Glob
	action   glob.Glob
	resource glob.Glob
}

func NewPolicyEngine(rules PolicyRuleRepository, cache DecisionCache, cacheTTL time.Duration, conditions ConditionEvaluator, federation FederationChecker, local spiffeid.TrustDomain, audit *AuditEmitter, clock Clock) *PolicyEngine {
	return &PolicyEngine{
		Rules:      rules,
		Cache:      cache,
		CacheTTL:   cacheTTL,
		Conditions: conditions,
		Federation: federation,
		Local:      local,
		Audit:      audit,
		Clock:      clock,
	}
}

// Reload fetches the current rule set and compiles its patterns. Rules with
// malformed patterns are skipped with a log line rather than failing the
// whole set.
func (e *PolicyEngine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	rules, err := e.Rules.List(ctx)
	if err != nil {
		return err
	}
	version, err := e.Rules.GetVersion(ctx)
	if err != nil {
		return err
	}
	compiled := &compiledRuleSet{version: version, rules: make([]compiledRule, 0, len(rules))}
	for _, rule := range rules {
		cr, err := compileRule(rule)
		if err != nil {
			log.Printf("policy: skipping rule %s: %v", rule.ID, err)
			continue
		}
		compiled.rules = append(compiled.rules, cr)
	}
	e.snapshot.Store(compiled)
	return nil
}

func compileRule(rule domain.PolicyRule) (compiledRule, error) {
	subject, err := glob.Compile(rule.SubjectPattern, '/')
	if err != nil {
		return compiledRule{}, fmt.Errorf("subject pattern: %w", err)
	}
	action, err := glob.Compile(rule.ActionPattern, ':')
	if err != nil {
		return compiledRule{}, fmt.Errorf("action pattern: %w", err)
	}
	resource, err := glob.Compile(rule.ResourcePattern, '/')
	if err != nil {
		return compiledRule{}, fmt.Errorf("resource pattern: %w", err)
	}
	return compiledRule{rule: rule, subject: subject, action: action, resource: resource}, nil
}

// Evaluate answers one authorization question. Requests carrying contextual
// attributes bypass the cache, since the cache key cannot account for them.
func (e *PolicyEngine) Evaluate(ctx context.Context, req DecisionRequest) (domain.Decision, error) {
	set := e.snapshot.Load()
	if set == nil {
		if err := e.Reload(ctx); err != nil {
			return domain.Decision{}, err
		}
		set = e.snapshot.Load()
	}

	// The cross-domain gate runs before the cache on every request: a cached
	// allow must never be served to a caller that did not itself present a
	// valid chain.
	if denied := e.crossDomainGate(ctx, set, req); denied != nil {
		e.Audit.EmitPolicyDecision(ctx, req.SubjectID, req.Action, req.Resource, *denied)
		return *denied, nil
	}

	cacheable := len(req.Context) == 0 && e.Cache != nil
	key := decisionKey(req, set.version)
	if cacheable {
		cached, ok, err := e.Cache.Get(ctx, key)
		if err != nil {
			log.Printf("policy: cache read failed: %v", err)
		} else if ok {
			return *cached, nil
		}
	}

	decision := e.decide(ctx, set, req)
	e.Audit.EmitPolicyDecision(ctx, req.SubjectID, req.Action, req.Resource, decision)
	if cacheable {
		if err := e.Cache.Put(ctx, key, decision, e.CacheTTL); err != nil {
			log.Printf("policy: cache write failed: %v", err)
		}
	}
	return decision, nil
}

// crossDomainGate fails closed for subjects outside the local trust domain:
// the federation relationship must be Active and the caller must present a
// certificate chain that validates against the locally held peer bundle and
// attests the claimed subject. Local subjects pass through untouched.
func (e *PolicyEngine) crossDomainGate(ctx context.Context, set *compiledRuleSet, req DecisionRequest) *domain.Decision {
	id, err := spiffeid.FromString(req.SubjectID)
	if err != nil || e.Local.IsZero() || id.TrustDomain() == e.Local {
		return nil
	}
	deny := func(reason string) *domain.Decision {
		return &domain.Decision{Allow: false, Reason: reason, PolicyVersion: set.version, EvaluatedAt: e.now()}
	}
	if e.Federation == nil || !e.Federation.PeerActive(id.TrustDomain().Name()) {
		return deny(domain.ReasonNoActiveFederation)
	}
	if e.Verifier == nil || len(req.ChainDER) == 0 {
		return deny(domain.ReasonChainInvalid)
	}
	result, err := e.Verifier.Verify(ctx, req.ChainDER, false)
	if err != nil {
		return deny(domain.ReasonChainInvalid)
	}
	if result.ID != req.SubjectID {
		return deny(domain.ReasonChainInvalid)
	}
	return nil
}

func (e *PolicyEngine) decide(ctx context.Context, set *compiledRuleSet, req DecisionRequest) domain.Decision {
	now := e.now()
	deny := func(reason, ruleID string) domain.Decision {
		return domain.Decision{Allow: false, Reason: reason, RuleID: ruleID, PolicyVersion: set.version, EvaluatedAt: now}
	}

	var allowed *compiledRule
	for i := range set.rules {
		cr := &set.rules[i]
		if !cr.subject.Match(req.SubjectID) || !cr.action.Match(req.Action) || !cr.resource.Match(req.Resource) {
			continue
		}
		if cr.rule.Condition != "" {
			ok, err := e.Conditions.Evaluate(ctx, cr.rule.Condition, conditionInput(req))
			if err != nil {
				// A condition that cannot be evaluated fails closed, not open.
				log.Printf("policy: condition for rule %s failed: %v", cr.rule.ID, err)
				if cr.rule.Effect == domain.EffectDeny {
					return deny(domain.ReasonConditionEvalFailed, cr.rule.ID)
				}
				continue
			}
			if !ok {
				continue
			}
		}
		if cr.rule.Effect == domain.EffectDeny {
			return deny(domain.ReasonExplicitDeny, cr.rule.ID)
		}
		if allowed == nil {
			allowed = cr
		}
	}
	if allowed == nil {
		return deny(domain.ReasonNoMatchingPolicy, "")
	}
	return domain.Decision{
		Allow:         true,
		Reason:        "matched allow rule",
		RuleID:        allowed.rule.ID,
		PolicyVersion: set.version,
		EvaluatedAt:   now,
	}
}

// AddRule persists a rule, bumps the policy version and eagerly invalidates
// the decision cache before the new version serves any decision.
func (e *PolicyEngine) AddRule(ctx context.Context, rule domain.PolicyRule, actor, reason string) error {
	if _, err := compileRule(rule); err != nil {
		return err
	}
	if rule.Effect != domain.EffectAllow && rule.Effect != domain.EffectDeny {
		return fmt.Errorf("invalid effect %q", rule.Effect)
	}
	if err := e.Rules.Create(ctx, rule); err != nil {
		return err
	}
	return e.bumpAndReload(ctx, actor, reason, rule.ID)
}

// RemoveRule deletes a rule with the same version-bump-then-purge sequence.
func (e *PolicyEngine) RemoveRule(ctx context.Context, ruleID, actor, reason string) error {
	if err := e.Rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	return e.bumpAndReload(ctx, actor, reason, ruleID)
}

func (e *PolicyEngine) bumpAndReload(ctx context.Context, actor, reason, ruleID string) error {
	if _, err := e.Rules.BumpVersion(ctx); err != nil {
		return err
	}
	if e.Cache != nil {
		if err := e.Cache.Purge(ctx); err != nil {
			log.Printf("policy: cache purge failed: %v", err)
		}
	}
	e.Audit.EmitAdminWrite(ctx, domain.AuditEventPolicyWrite, domain.AuditTargetPolicy, ruleID, actor, reason)
	return e.Reload(ctx)
}

// InvalidateDecisions implements CacheInvalidator for revocation: revoking
// an identity must not leave stale allows behind.
func (e *PolicyEngine) InvalidateDecisions(ctx context.Context) error {
	if e.Cache == nil {
		return nil
	}
	return e.Cache.Purge(ctx)
}

func (e *PolicyEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func decisionKey(req DecisionRequest, version int64) string {
	return strings.Join([]string{req.SubjectID, req.Action, req.Resource, fmt.Sprintf("%d", version)}, "|")
}

func conditionInput(req DecisionRequest) map[string]any {
	input := map[string]any{
		"subject_id": req.SubjectID,
		"action":     req.Action,
		"resource":   req.Resource,
	}
	attrs := make(map[string]any, len(req.Context))
	for k, v := range req.Context {
		attrs[k] = v
	}
	input["context"] = attrs
	return input
}
