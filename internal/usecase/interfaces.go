package usecase

import (
	"context"
	"time"

	"trustplane/internal/domain"
)

type Clock func() time.Time

// EvidenceVerifier interprets one kind of opaque attestation evidence. The
// attestor dispatches on the evidence type tag; verifiers own the
// cryptographic or semantic checks and return the selectors they can vouch
// for.
type EvidenceVerifier interface {
	Type() domain.EvidenceType
	Verify(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error)
}

// RegistrationSource yields a point-in-time consistent snapshot of the
// committed registration state. Readers never observe a half-written entry.
type RegistrationSource interface {
	Snapshot(ctx context.Context) ([]domain.RegistrationEntry, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, entry domain.RegistrationEntry) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.RegistrationEntry, error)
}

type SigningKeyRepository interface {
	Create(ctx context.Context, key domain.SigningKey) error
	UpdateStatus(ctx context.Context, kid string, status domain.KeyStatus) error
	List(ctx context.Context) ([]domain.SigningKey, error)
}

type RevocationRepository interface {
	Append(ctx context.Context, rev domain.Revocation) error
	// IsRevoked reports whether a revocation exists for subjectID with a
	// revocation timestamp at or after issuedAt. Documents issued after the
	// revocation are unaffected.
	IsRevoked(ctx context.Context, subjectID string, issuedAt time.Time) (bool, error)
	List(ctx context.Context, subjectID string) ([]domain.Revocation, error)
}

type RevocationEpochRepository interface {
	GetEpoch(ctx context.Context) (int64, error)
	BumpEpoch(ctx context.Context) (int64, error)
}

type BundleRepository interface {
	Upsert(ctx context.Context, trustDomain string, sequence uint64, signed domain.SignedBundle, state domain.PeerState, endpoint string) error
	List(ctx context.Context) ([]StoredPeerBundle, error)
}

type StoredPeerBundle struct {
	TrustDomain string
	Sequence    uint64
	Signed      domain.SignedBundle
	State       domain.PeerState
	Endpoint    string
}

type PolicyRuleRepository interface {
	Create(ctx context.Context, rule domain.PolicyRule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.PolicyRule, error)
	BumpVersion(ctx context.Context) (int64, error)
	GetVersion(ctx context.Context) (int64, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}

// DecisionCache stores policy decisions keyed on (subject, action,
// resource, policy version). Purge drops every entry regardless of TTL so a
// version bump propagates before natural expiry would.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*domain.Decision, bool, error)
	Put(ctx context.Context, key string, d domain.Decision, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// ConditionEvaluator evaluates a policy rule's optional attribute condition
// against the request input.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, condition string, input map[string]any) (bool, error)
}

// PeerClient fetches a peer trust domain's current signed bundle. The call
// carries the caller's deadline; a slow peer must not stall any other peer.
type PeerClient interface {
	FetchBundle(ctx context.Context, endpoint string) (domain.SignedBundle, error)
}

// CacheInvalidator is notified when a correctness-sensitive state change
// (rule write, revocation) must reach caches before their TTL would expire.
type CacheInvalidator interface {
	InvalidateDecisions(ctx context.Context) error
}
