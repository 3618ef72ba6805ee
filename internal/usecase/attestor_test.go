package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustplane/internal/domain"
)

var attestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAttestor(verifiers ...EvidenceVerifier) *Attestor {
	return NewAttestor(5*time.Minute, 30*time.Second, fixedClock(attestNow), verifiers...)
}

func nodeEvidence() domain.Evidence {
	return domain.Evidence{Type: domain.EvidenceNodeDocument, Payload: []byte("{}"), IssuedAt: attestNow.Add(-time.Minute)}
}

func workloadEvidence() domain.Evidence {
	return domain.Evidence{Type: domain.EvidenceWorkloadMetadata, Payload: []byte("{}"), IssuedAt: attestNow.Add(-time.Minute)}
}

func TestAttestHappyPath(t *testing.T) {
	nodeV := &fakeVerifier{
		evType:    domain.EvidenceNodeDocument,
		selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
	}
	workloadV := &fakeVerifier{
		evType:    domain.EvidenceWorkloadMetadata,
		selectors: domain.SelectorSet{{Type: "workload", Key: "uid", Value: "1000"}},
	}
	a := testAttestor(nodeV, workloadV)

	selectors, err := a.Attest(context.Background(), nodeEvidence(), workloadEvidence())
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if len(selectors) != 2 {
		t.Fatalf("want merged node+workload selectors, got %v", selectors)
	}
}

func TestAttestWorkloadBeforeNodeRejected(t *testing.T) {
	workloadV := &fakeVerifier{
		evType:    domain.EvidenceWorkloadMetadata,
		selectors: domain.SelectorSet{{Type: "workload", Key: "uid", Value: "1000"}},
	}
	a := testAttestor(workloadV)

	session := a.Begin()
	if _, err := session.VerifyWorkload(context.Background(), workloadEvidence()); !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("want ErrAttestationFailed, got %v", err)
	}
	if session.State() != domain.AttestRejected {
		t.Fatalf("session should be rejected, got %s", session.State())
	}
	if workloadV.calls != 0 {
		t.Fatalf("verifier must not run before node verification")
	}
}

func TestAttestRejectedSessionIsTerminal(t *testing.T) {
	nodeV := &fakeVerifier{evType: domain.EvidenceNodeDocument, err: errors.New("bad signature")}
	a := testAttestor(nodeV)

	session := a.Begin()
	if err := session.VerifyNode(context.Background(), nodeEvidence()); !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("want ErrAttestationFailed, got %v", err)
	}
	// A second attempt on the same session must fail even with a verifier
	// that would now succeed.
	nodeV.err = nil
	nodeV.selectors = domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}}
	if err := session.VerifyNode(context.Background(), nodeEvidence()); !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("rejected session must stay rejected, got %v", err)
	}
}

func TestAttestSessionSingleUse(t *testing.T) {
	nodeV := &fakeVerifier{
		evType:    domain.EvidenceNodeDocument,
		selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
	}
	workloadV := &fakeVerifier{
		evType:    domain.EvidenceWorkloadMetadata,
		selectors: domain.SelectorSet{{Type: "workload", Key: "uid", Value: "1000"}},
	}
	a := testAttestor(nodeV, workloadV)

	session := a.Begin()
	if err := session.VerifyNode(context.Background(), nodeEvidence()); err != nil {
		t.Fatalf("verify node: %v", err)
	}
	if _, err := session.VerifyWorkload(context.Background(), workloadEvidence()); err != nil {
		t.Fatalf("verify workload: %v", err)
	}
	if _, err := session.VerifyWorkload(context.Background(), workloadEvidence()); !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("consumed session must not verify again, got %v", err)
	}
}

func TestAttestStaleEvidence(t *testing.T) {
	nodeV := &fakeVerifier{
		evType:    domain.EvidenceNodeDocument,
		selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
	}
	a := testAttestor(nodeV)

	stale := domain.Evidence{
		Type:     domain.EvidenceNodeDocument,
		Payload:  []byte("{}"),
		IssuedAt: attestNow.Add(-6 * time.Minute),
	}
	session := a.Begin()
	if err := session.VerifyNode(context.Background(), stale); !errors.Is(err, domain.ErrEvidenceStale) {
		t.Fatalf("want ErrEvidenceStale, got %v", err)
	}
	if nodeV.calls != 0 {
		t.Fatalf("stale evidence must be rejected before the verifier runs")
	}
}

func TestAttestFutureEvidenceBeyondSkew(t *testing.T) {
	nodeV := &fakeVerifier{
		evType:    domain.EvidenceNodeDocument,
		selectors: domain.SelectorSet{{Type: "node", Key: "instance_id", Value: "i-0abc"}},
	}
	a := testAttestor(nodeV)

	cases := []struct {
		name     string
		issuedAt time.Time
		wantErr  bool
	}{
		{"within skew", attestNow.Add(20 * time.Second), false},
		{"beyond skew", attestNow.Add(2 * time.Minute), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := a.Begin()
			err := session.VerifyNode(context.Background(), domain.Evidence{
				Type:     domain.EvidenceNodeDocument,
				Payload:  []byte("{}"),
				IssuedAt: tc.issuedAt,
			})
			if tc.wantErr && !errors.Is(err, domain.ErrEvidenceStale) {
				t.Fatalf("want ErrEvidenceStale, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAttestUnknownEvidenceType(t *testing.T) {
	a := testAttestor()
	session := a.Begin()
	err := session.VerifyNode(context.Background(), nodeEvidence())
	if !errors.Is(err, domain.ErrAttestationFailed) {
		t.Fatalf("want ErrAttestationFailed for unknown evidence type, got %v", err)
	}
}
