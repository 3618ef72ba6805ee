package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync/atomic"
	"time"

	"trustplane/internal/domain"
)

// AuditEmitter queues structured events for the observability sink.
// Delivery is best-effort and never blocks the emitting operation: when the
// queue is full the event is dropped and counted, it does not back up into
// the issuance or verification path.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock

	queue   chan domain.AuditEvent
	dropped atomic.Int64
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock, queueSize int) *AuditEmitter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
		queue: make(chan domain.AuditEvent, queueSize),
	}
}

// Run drains the queue until ctx is cancelled. Persistence errors are
// logged and the event is discarded; audit delivery is not allowed to wedge
// the queue.
func (e *AuditEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.queue:
			if e.Repo == nil {
				continue
			}
			if _, err := e.Repo.Append(ctx, event); err != nil {
				log.Printf("audit append failed: %v", err)
			}
		}
	}
}

// Dropped reports how many events were discarded under backpressure.
func (e *AuditEmitter) Dropped() int64 {
	return e.dropped.Load()
}

func (e *AuditEmitter) emit(event domain.AuditEvent) {
	if e == nil {
		return
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}
	select {
	case e.queue <- event:
	default:
		e.dropped.Add(1)
	}
}

func (e *AuditEmitter) EmitIdentityIssued(_ context.Context, doc domain.IdentityDocument) {
	e.emit(domain.AuditEvent{
		ActorType:  domain.AuditActorWorkload,
		EventType:  domain.AuditEventIdentityIssued,
		TargetType: domain.AuditTargetIdentity,
		TargetID:   doc.ID.String(),
		Result:     domain.AuditResultSuccess,
		Payload: map[string]any{
			"serial":               doc.SerialNumber,
			"expires_at":           doc.ExpiresAt.Format(time.RFC3339),
			"selector_fingerprint": doc.SelectorFingerprint,
			"signing_kid":          doc.SigningKID,
		},
	})
}

func (e *AuditEmitter) EmitIdentityRejected(_ context.Context, subjectID, stage string, cause error) {
	event := domain.AuditEvent{
		ActorType:  domain.AuditActorWorkload,
		EventType:  domain.AuditEventIdentityRejected,
		TargetType: domain.AuditTargetIdentity,
		TargetID:   subjectID,
		Result:     domain.AuditResultFailure,
		ErrorCode:  stage,
		Payload:    map[string]any{"stage": stage},
	}
	if cause != nil {
		event.Payload["error"] = cause.Error()
	}
	e.emit(event)
}

func (e *AuditEmitter) EmitIdentityRevoked(_ context.Context, actor, reason string, rev domain.Revocation) {
	e.emit(domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(actor),
		Reason:      reason,
		EventType:   domain.AuditEventIdentityRevoked,
		TargetType:  domain.AuditTargetIdentity,
		TargetID:    rev.SubjectID,
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"revoked_at": rev.RevokedAt.Format(time.RFC3339),
		},
	})
}

func (e *AuditEmitter) EmitKeyRotated(_ context.Context, actor, reason string, bundle domain.TrustBundle, activeKID string) {
	e.emit(domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(actor),
		Reason:      reason,
		EventType:   domain.AuditEventKeyRotated,
		TargetType:  domain.AuditTargetKey,
		TargetID:    activeKID,
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"bundle_sequence": bundle.Sequence,
			"authorities":     len(bundle.Authorities),
		},
	})
}

func (e *AuditEmitter) EmitBundleImported(_ context.Context, trustDomain string, sequence uint64) {
	e.emit(domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventBundleImported,
		TargetType: domain.AuditTargetBundle,
		TargetID:   trustDomain,
		Result:     domain.AuditResultSuccess,
		Payload:    map[string]any{"sequence": sequence},
	})
}

func (e *AuditEmitter) EmitBundleRejected(_ context.Context, trustDomain string, cause error) {
	event := domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventBundleRejected,
		TargetType: domain.AuditTargetBundle,
		TargetID:   trustDomain,
		Result:     domain.AuditResultFailure,
		Payload:    map[string]any{},
	}
	if cause != nil {
		event.Payload["error"] = cause.Error()
	}
	e.emit(event)
}

func (e *AuditEmitter) EmitPeerBootstrapped(_ context.Context, actor, reason, trustDomain string, sequence uint64) {
	e.emit(domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(actor),
		Reason:      reason,
		EventType:   domain.AuditEventPeerBootstrapped,
		TargetType:  domain.AuditTargetPeer,
		TargetID:    trustDomain,
		Result:      domain.AuditResultSuccess,
		Payload:     map[string]any{"sequence": sequence},
	})
}

func (e *AuditEmitter) EmitPolicyDecision(_ context.Context, subjectID, action, resource string, decision domain.Decision) {
	e.emit(domain.AuditEvent{
		ActorType:  domain.AuditActorWorkload,
		EventType:  domain.AuditEventPolicyDecision,
		TargetType: domain.AuditTargetPolicy,
		TargetID:   subjectID,
		Result:     domain.AuditResultSuccess,
		Payload: map[string]any{
			"action":         action,
			"resource":       resource,
			"allow":          decision.Allow,
			"reason":         decision.Reason,
			"policy_version": decision.PolicyVersion,
		},
	})
}

func (e *AuditEmitter) EmitAdminWrite(_ context.Context, eventType domain.AuditEventType, targetType domain.AuditTargetType, targetID, actor, reason string) {
	e.emit(domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(actor),
		Reason:      reason,
		EventType:   eventType,
		TargetType:  targetType,
		TargetID:    targetID,
		Result:      domain.AuditResultSuccess,
	})
}

func (e *AuditEmitter) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func hashString(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
