// Package memstore provides in-memory implementations of the persistence
// interfaces for running without PostgreSQL. State does not survive a
// restart; everything else behaves like the database-backed repositories.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/infra/db"
	"trustplane/internal/usecase"
)

// Registrations holds registration entries keyed by ID.
type Registrations struct {
	mu      sync.RWMutex
	entries []domain.RegistrationEntry
}

func NewRegistrations() *Registrations {
	return &Registrations{}
}

func (r *Registrations) Create(_ context.Context, entry domain.RegistrationEntry) error {
	if entry.ID == "" {
		return errors.New("registration id is required")
	}
	if entry.SPIFFEID.IsZero() {
		return errors.New("spiffe id is required")
	}
	if len(entry.Selectors) == 0 {
		return errors.New("at least one selector is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.ID == entry.ID {
			return fmt.Errorf("registration %s already exists", entry.ID)
		}
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	r.entries = append(r.entries, entry)
	return nil
}

func (r *Registrations) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.entries {
		if existing.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *Registrations) List(_ context.Context) ([]domain.RegistrationEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RegistrationEntry, len(r.entries))
	copy(out, r.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Registrations) Snapshot(ctx context.Context) ([]domain.RegistrationEntry, error) {
	return r.List(ctx)
}

// PolicyRules holds policy rules plus the monotonically bumped version.
type PolicyRules struct {
	mu      sync.RWMutex
	rules   []domain.PolicyRule
	version int64
}

func NewPolicyRules() *PolicyRules {
	return &PolicyRules{}
}

func (r *PolicyRules) Create(_ context.Context, rule domain.PolicyRule) error {
	if rule.ID == "" {
		return errors.New("rule id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("rule %s already exists", rule.ID)
		}
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	r.rules = append(r.rules, rule)
	return nil
}

func (r *PolicyRules) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *PolicyRules) List(_ context.Context) ([]domain.PolicyRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PolicyRule, len(r.rules))
	copy(out, r.rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetVersion lazily initializes the version to 1, matching the seeded row of
// the database-backed repository.
func (r *PolicyRules) GetVersion(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version == 0 {
		r.version = 1
	}
	return r.version, nil
}

func (r *PolicyRules) BumpVersion(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version == 0 {
		r.version = 1
	} else {
		r.version++
	}
	return r.version, nil
}

// Revocations is an append-only revocation log.
type Revocations struct {
	mu   sync.RWMutex
	revs []domain.Revocation
}

func NewRevocations() *Revocations {
	return &Revocations{}
}

func (r *Revocations) Append(_ context.Context, rev domain.Revocation) error {
	if rev.SubjectID == "" {
		return errors.New("subject_id is required")
	}
	if rev.ID == "" {
		id, err := db.NewUUID()
		if err != nil {
			return err
		}
		rev.ID = id
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revs = append(r.revs, rev)
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, subjectID string, issuedAt time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rev := range r.revs {
		if rev.SubjectID == subjectID && !rev.RevokedAt.Before(issuedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Revocations) List(_ context.Context, subjectID string) ([]domain.Revocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Revocation, 0, len(r.revs))
	for _, rev := range r.revs {
		if subjectID != "" && rev.SubjectID != subjectID {
			continue
		}
		out = append(out, rev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RevokedAt.After(out[j].RevokedAt) })
	return out, nil
}

// Epochs is the revocation epoch counter.
type Epochs struct {
	mu    sync.Mutex
	epoch int64
}

func NewEpochs() *Epochs {
	return &Epochs{}
}

func (e *Epochs) GetEpoch(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, nil
}

func (e *Epochs) BumpEpoch(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	return e.epoch, nil
}

var (
	_ usecase.RegistrationRepository    = (*Registrations)(nil)
	_ usecase.RegistrationSource        = (*Registrations)(nil)
	_ usecase.PolicyRuleRepository      = (*PolicyRules)(nil)
	_ usecase.RevocationRepository      = (*Revocations)(nil)
	_ usecase.RevocationEpochRepository = (*Epochs)(nil)
)
