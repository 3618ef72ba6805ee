package usecase

import (
	"context"
	"sync"
	"time"

	"trustplane/internal/domain"
)

// fixedClock returns a Clock pinned to t.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// stepClock is a Clock whose current time tests can advance.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeVerifier struct {
	evType    domain.EvidenceType
	selectors domain.SelectorSet
	err       error
	calls     int
}

func (v *fakeVerifier) Type() domain.EvidenceType {
	return v.evType
}

func (v *fakeVerifier) Verify(_ context.Context, _ domain.Evidence) (domain.SelectorSet, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.selectors, nil
}

type staticRegistrations struct {
	entries []domain.RegistrationEntry
	err     error
}

func (s *staticRegistrations) Snapshot(_ context.Context) ([]domain.RegistrationEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.entries, nil
}

type memSigningKeyRepo struct {
	mu   sync.Mutex
	keys []domain.SigningKey
}

func (r *memSigningKeyRepo) Create(_ context.Context, key domain.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}

func (r *memSigningKeyRepo) UpdateStatus(_ context.Context, kid string, status domain.KeyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].KID == kid {
			r.keys[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memSigningKeyRepo) List(_ context.Context) ([]domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SigningKey, len(r.keys))
	copy(out, r.keys)
	return out, nil
}

type memRevocationRepo struct {
	mu   sync.Mutex
	revs []domain.Revocation
	err  error
}

func (r *memRevocationRepo) Append(_ context.Context, rev domain.Revocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revs = append(r.revs, rev)
	return nil
}

func (r *memRevocationRepo) IsRevoked(_ context.Context, subjectID string, issuedAt time.Time) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rev := range r.revs {
		if rev.SubjectID == subjectID && !rev.RevokedAt.Before(issuedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRevocationRepo) List(_ context.Context, subjectID string) ([]domain.Revocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Revocation
	for _, rev := range r.revs {
		if subjectID == "" || rev.SubjectID == subjectID {
			out = append(out, rev)
		}
	}
	return out, nil
}

type memEpochRepo struct {
	mu    sync.Mutex
	epoch int64
}

func (r *memEpochRepo) GetEpoch(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch, nil
}

func (r *memEpochRepo) BumpEpoch(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	return r.epoch, nil
}

type memPolicyRules struct {
	mu      sync.Mutex
	rules   []domain.PolicyRule
	version int64
}

func (r *memPolicyRules) Create(_ context.Context, rule domain.PolicyRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

func (r *memPolicyRules) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memPolicyRules) List(_ context.Context) ([]domain.PolicyRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PolicyRule, len(r.rules))
	copy(out, r.rules)
	return out, nil
}

func (r *memPolicyRules) BumpVersion(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	return r.version, nil
}

func (r *memPolicyRules) GetVersion(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, nil
}

type memBundleRepo struct {
	mu     sync.Mutex
	stored map[string]StoredPeerBundle
}

func newMemBundleRepo() *memBundleRepo {
	return &memBundleRepo{stored: make(map[string]StoredPeerBundle)}
}

func (r *memBundleRepo) Upsert(_ context.Context, trustDomain string, sequence uint64, signed domain.SignedBundle, state domain.PeerState, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[trustDomain] = StoredPeerBundle{
		TrustDomain: trustDomain,
		Sequence:    sequence,
		Signed:      signed,
		State:       state,
		Endpoint:    endpoint,
	}
	return nil
}

func (r *memBundleRepo) List(_ context.Context) ([]StoredPeerBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoredPeerBundle, 0, len(r.stored))
	for _, s := range r.stored {
		out = append(out, s)
	}
	return out, nil
}

type fakePeerClient struct {
	mu     sync.Mutex
	bundle domain.SignedBundle
	err    error
	calls  int
}

func (c *fakePeerClient) FetchBundle(_ context.Context, _ string) (domain.SignedBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return domain.SignedBundle{}, c.err
	}
	return c.bundle, nil
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *memAuditRepo) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return event, nil
}

func (r *memAuditRepo) List(_ context.Context, limit int) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEvent, len(r.events))
	copy(out, r.events)
	return out, nil
}
