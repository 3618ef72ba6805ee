package domain

import "time"

type AuditActorType string

const (
	AuditActorSystem      AuditActorType = "system"
	AuditActorAdminAPIKey AuditActorType = "admin_api_key"
	AuditActorWorkload    AuditActorType = "workload"
)

type AuditEventType string

const (
	AuditEventIdentityIssued    AuditEventType = "identity_issued"
	AuditEventIdentityRejected  AuditEventType = "identity_rejected"
	AuditEventIdentityRevoked   AuditEventType = "identity_revoked"
	AuditEventKeyRotated        AuditEventType = "key_rotated"
	AuditEventBundleImported    AuditEventType = "bundle_imported"
	AuditEventBundleRejected    AuditEventType = "bundle_rejected"
	AuditEventPeerBootstrapped  AuditEventType = "peer_bootstrapped"
	AuditEventPolicyDecision    AuditEventType = "policy_decision"
	AuditEventRegistrationWrite AuditEventType = "registration_write"
	AuditEventPolicyWrite       AuditEventType = "policy_write"
	AuditEventPeerWrite         AuditEventType = "peer_write"
)

type AuditTargetType string

const (
	AuditTargetIdentity     AuditTargetType = "identity"
	AuditTargetKey          AuditTargetType = "key"
	AuditTargetBundle       AuditTargetType = "bundle"
	AuditTargetPeer         AuditTargetType = "peer"
	AuditTargetRegistration AuditTargetType = "registration"
	AuditTargetPolicy       AuditTargetType = "policy"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEvent is the structured record emitted for every issuance,
// revocation, federation import/rejection and policy decision. Delivery is
// best-effort: emission never blocks the operation that produced the event.
type AuditEvent struct {
	ID          string
	ActorType   AuditActorType
	ActorIDHash string
	Reason      string
	EventType   AuditEventType
	TargetType  AuditTargetType
	TargetID    string
	Result      AuditResult
	ErrorCode   string
	Payload     map[string]any
	CreatedAt   time.Time
}
