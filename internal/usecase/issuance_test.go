package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/infra/keys/soft"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

func testCoordinator(t *testing.T, entries []domain.RegistrationEntry, verifiers ...EvidenceVerifier) (*IssuanceCoordinator, *AuditEmitter) {
	t.Helper()
	td, err := spiffeid.TrustDomainFromString("example.org")
	if err != nil {
		t.Fatalf("trust domain: %v", err)
	}
	authority, err := NewKeyAuthority(context.Background(), KeyAuthorityConfig{
		TrustDomain:   td,
		Keys:          soft.NewManager(),
		Clock:         fixedClock(attestNow),
		MaxTTL:        time.Hour,
		ClockSkew:     30 * time.Second,
		RotationGrace: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("bootstrap authority: %v", err)
	}
	audit := NewAuditEmitter(&memAuditRepo{}, fixedClock(attestNow), 16)
	return &IssuanceCoordinator{
		Attestor:  testAttestor(verifiers...),
		Matcher:   &RegistrationMatcher{Source: &staticRegistrations{entries: entries}},
		Authority: authority,
		Audit:     audit,
	}, audit
}

// drainAudit pulls everything currently queued without running the emitter.
func drainAudit(e *AuditEmitter) []domain.AuditEvent {
	var events []domain.AuditEvent
	for {
		select {
		case event := <-e.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

func frontendEntry(t *testing.T, ttl time.Duration) domain.RegistrationEntry {
	t.Helper()
	return domain.RegistrationEntry{
		ID:       "reg-frontend",
		SPIFFEID: mustID(t, "spiffe://example.org/svc/frontend"),
		Selectors: domain.SelectorSet{
			{Type: "node", Key: "instance_id", Value: "i-0abc"},
			{Type: "workload", Key: "uid", Value: "1000"},
		},
		TTL: ttl,
	}
}

func issuanceVerifiers() (node, workload *fakeVerifier) {
	node = &fakeVerifier{
		evType:    domain.EvidenceNodeDocument,
		selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
	}
	workload = &fakeVerifier{
		evType:    domain.EvidenceWorkloadMetadata,
		selectors: domain.SelectorSet{{Type: "workload", Key: "uid", Value: "1000"}},
	}
	return node, workload
}

func TestRequestIdentityClampsExcessiveTTL(t *testing.T) {
	nodeV, workloadV := issuanceVerifiers()
	c, audit := testCoordinator(t, []domain.RegistrationEntry{frontendEntry(t, 0)}, nodeV, workloadV)

	doc, err := c.RequestIdentity(context.Background(), IdentityRequest{
		NodeEvidence:     nodeEvidence(),
		WorkloadEvidence: workloadEvidence(),
		PublicKey:        workloadKey(t),
		RequestedTTL:     24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("request identity: %v", err)
	}
	if doc.ID.String() != "spiffe://example.org/svc/frontend" {
		t.Fatalf("wrong subject: %s", doc.ID)
	}
	if got := doc.TTL(); got != time.Hour {
		t.Fatalf("24h request must be clamped to the 1h maximum, got %s", got)
	}

	events := drainAudit(audit)
	if len(events) != 1 || events[0].EventType != domain.AuditEventIdentityIssued {
		t.Fatalf("want one identity.issued event, got %+v", events)
	}
}

func TestRequestIdentityEntryTTLOverridesRequest(t *testing.T) {
	nodeV, workloadV := issuanceVerifiers()
	c, _ := testCoordinator(t, []domain.RegistrationEntry{frontendEntry(t, 5 * time.Minute)}, nodeV, workloadV)

	doc, err := c.RequestIdentity(context.Background(), IdentityRequest{
		NodeEvidence:     nodeEvidence(),
		WorkloadEvidence: workloadEvidence(),
		PublicKey:        workloadKey(t),
		RequestedTTL:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("request identity: %v", err)
	}
	if got := doc.TTL(); got != 5*time.Minute {
		t.Fatalf("entry TTL must cap the request, got %s", got)
	}
}

func TestRequestIdentityFailsFastOnAttestation(t *testing.T) {
	nodeV, workloadV := issuanceVerifiers()
	nodeV.err = errors.New("document signature mismatch")
	c, audit := testCoordinator(t, []domain.RegistrationEntry{frontendEntry(t, 0)}, nodeV, workloadV)

	_, err := c.RequestIdentity(context.Background(), IdentityRequest{
		NodeEvidence:     nodeEvidence(),
		WorkloadEvidence: workloadEvidence(),
		PublicKey:        workloadKey(t),
	})
	if !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("want ErrAttestationFailed, got %v", err)
	}
	if workloadV.calls != 0 {
		t.Fatalf("workload verification must not run after a node failure")
	}

	events := drainAudit(audit)
	if len(events) != 1 || events[0].EventType != domain.AuditEventIdentityRejected {
		t.Fatalf("want one identity.rejected event, got %+v", events)
	}
	if stage := events[0].Payload["stage"]; stage != "attestation" {
		t.Fatalf("want attestation stage, got %v", stage)
	}
}

func TestRequestIdentityNoRegistration(t *testing.T) {
	nodeV, workloadV := issuanceVerifiers()
	c, _ := testCoordinator(t, nil, nodeV, workloadV)

	_, err := c.RequestIdentity(context.Background(), IdentityRequest{
		NodeEvidence:     nodeEvidence(),
		WorkloadEvidence: workloadEvidence(),
		PublicKey:        workloadKey(t),
	})
	if !errors.Is(err, domain.ErrNoRegistration) {
		t.Fatalf("want ErrNoRegistration, got %v", err)
	}
}

func TestRequestIdentityAmbiguousFailsClosed(t *testing.T) {
	nodeV, workloadV := issuanceVerifiers()
	entries := []domain.RegistrationEntry{
		frontendEntry(t, 0),
		{
			ID:        "reg-backend",
			SPIFFEID:  mustID(t, "spiffe://example.org/svc/backend"),
			Selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
		},
	}
	c, audit := testCoordinator(t, entries, nodeV, workloadV)

	_, err := c.RequestIdentity(context.Background(), IdentityRequest{
		NodeEvidence:     nodeEvidence(),
		WorkloadEvidence: workloadEvidence(),
		PublicKey:        workloadKey(t),
	})
	if !errors.Is(err, domain.ErrAmbiguousRegistration) {
		t.Fatalf("want ErrAmbiguousRegistration, got %v", err)
	}

	events := drainAudit(audit)
	if len(events) != 1 {
		t.Fatalf("want one audit event, got %d", len(events))
	}
	if stage := events[0].Payload["stage"]; stage != "registration_ambiguous" {
		t.Fatalf("want registration_ambiguous stage, got %v", stage)
	}
}
