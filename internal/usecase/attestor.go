package usecase

import (
	"context"
	"fmt"
	"time"

	"trustplane/internal/domain"
)

// Attestor sequences the two-stage attestation state machine. Verification
// of the evidence itself is delegated to the registered EvidenceVerifiers;
// the attestor owns ordering, freshness and the single-use session rule.
type Attestor struct {
	MaxEvidenceAge time.Duration
	ClockSkew      time.Duration
	Clock          Clock

	verifiers map[domain.EvidenceType]EvidenceVerifier
}

func NewAttestor(maxAge, skew time.Duration, clock Clock, verifiers ...EvidenceVerifier) *Attestor {
	byType := make(map[domain.EvidenceType]EvidenceVerifier, len(verifiers))
	for _, v := range verifiers {
		byType[v.Type()] = v
	}
	return &Attestor{
		MaxEvidenceAge: maxAge,
		ClockSkew:      skew,
		Clock:          clock,
		verifiers:      byType,
	}
}

// AttestationSession is single-use: one attestation attempt yields at most
// one SelectorSet. A rejected session is terminal and never retried; the
// caller must begin a new session with fresh evidence.
type AttestationSession struct {
	attestor      *Attestor
	state         domain.AttestationState
	nodeSelectors domain.SelectorSet
	consumed      bool
}

func (a *Attestor) Begin() *AttestationSession {
	return &AttestationSession{attestor: a, state: domain.NodeUnverified}
}

func (s *AttestationSession) State() domain.AttestationState {
	return s.state
}

// VerifyNode moves the session from NodeUnverified to NodeVerified. Any
// failure, including stale evidence, is terminal.
func (s *AttestationSession) VerifyNode(ctx context.Context, ev domain.Evidence) error {
	if s.state != domain.NodeUnverified {
		s.state = domain.AttestRejected
		return fmt.Errorf("%w: node verification out of order", domain.ErrAttestationFailed)
	}
	selectors, err := s.attestor.verify(ctx, ev)
	if err != nil {
		s.state = domain.AttestRejected
		return err
	}
	s.nodeSelectors = selectors
	s.state = domain.NodeVerified
	return nil
}

// VerifyWorkload completes the session. The hosting node must have been
// verified in this same session; there is no cross-session node trust.
func (s *AttestationSession) VerifyWorkload(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error) {
	if s.consumed {
		s.state = domain.AttestRejected
		return nil, fmt.Errorf("%w: session already used", domain.ErrAttestationFailed)
	}
	if s.state != domain.NodeVerified {
		s.state = domain.AttestRejected
		return nil, fmt.Errorf("%w: node not verified in this session", domain.ErrAttestationFailed)
	}
	selectors, err := s.attestor.verify(ctx, ev)
	if err != nil {
		s.state = domain.AttestRejected
		return nil, err
	}
	s.consumed = true
	s.state = domain.WorkloadVerified
	return s.nodeSelectors.Merge(selectors), nil
}

// Attest runs a whole session: node evidence, then workload evidence.
// Success yields the verified SelectorSet and nothing else; issuing a
// credential is the coordinator's job, not the attestor's.
func (a *Attestor) Attest(ctx context.Context, nodeEv, workloadEv domain.Evidence) (domain.SelectorSet, error) {
	session := a.Begin()
	if err := session.VerifyNode(ctx, nodeEv); err != nil {
		return nil, err
	}
	return session.VerifyWorkload(ctx, workloadEv)
}

func (a *Attestor) verify(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error) {
	if err := a.checkFreshness(ev); err != nil {
		return nil, err
	}
	verifier, ok := a.verifiers[ev.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no verifier for evidence type %q", domain.ErrAttestationFailed, ev.Type)
	}
	selectors, err := verifier.Verify(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAttestationFailed, err)
	}
	if len(selectors) == 0 {
		return nil, fmt.Errorf("%w: verifier yielded no selectors", domain.ErrAttestationFailed)
	}
	return selectors, nil
}

// checkFreshness enforces the bounded acceptance window: evidence older
// than the window, or timestamped further in the future than the allowed
// skew, is treated as replayed.
func (a *Attestor) checkFreshness(ev domain.Evidence) error {
	if ev.IssuedAt.IsZero() {
		return fmt.Errorf("%w: evidence has no timestamp", domain.ErrEvidenceStale)
	}
	now := a.now()
	if now.Sub(ev.IssuedAt) > a.MaxEvidenceAge {
		return fmt.Errorf("%w: issued %s ago, window is %s", domain.ErrEvidenceStale, now.Sub(ev.IssuedAt).Round(time.Second), a.MaxEvidenceAge)
	}
	if ev.IssuedAt.Sub(now) > a.ClockSkew {
		return fmt.Errorf("%w: evidence timestamp in the future", domain.ErrEvidenceStale)
	}
	return nil
}

func (a *Attestor) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}
