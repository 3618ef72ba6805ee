package usecase

import (
	"context"
	"fmt"
	"sync/atomic"

	"trustplane/internal/domain"
)

// RegistrationMatcher resolves a verified SelectorSet to the registration
// entry that should receive an identity. An entry matches on subset
// containment: all of its selectors must be present, extras on the workload
// side are fine.
type RegistrationMatcher struct {
	Source RegistrationSource
}

// Match applies the tie-break rule: if multiple entries match and any two
// imply different subject identifiers, the configuration is ambiguous and
// matching fails closed. Duplicate entries for the same subject are
// tolerated; the one with the most selectors (most specific) wins.
func (m *RegistrationMatcher) Match(ctx context.Context, presented domain.SelectorSet) (*domain.RegistrationEntry, error) {
	entries, err := m.Source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var matched []domain.RegistrationEntry
	for _, entry := range entries {
		if presented.ContainsAll(entry.Selectors) {
			matched = append(matched, entry)
		}
	}
	if len(matched) == 0 {
		return nil, domain.ErrNoRegistration
	}
	best := matched[0]
	for _, entry := range matched[1:] {
		if entry.SPIFFEID.String() != best.SPIFFEID.String() {
			return nil, fmt.Errorf("%w: entries %s and %s both match", domain.ErrAmbiguousRegistration, best.ID, entry.ID)
		}
		if len(entry.Selectors) > len(best.Selectors) {
			best = entry
		}
	}
	return &best, nil
}

// RegistrationCatalog is a copy-on-write snapshot over the durable
// registration store. Admin writers call Reload after committing; readers
// always see one consistent snapshot per request.
type RegistrationCatalog struct {
	Repo RegistrationRepository

	snapshot atomic.Pointer[[]domain.RegistrationEntry]
}

func NewRegistrationCatalog(repo RegistrationRepository) *RegistrationCatalog {
	return &RegistrationCatalog{Repo: repo}
}

func (c *RegistrationCatalog) Snapshot(ctx context.Context) ([]domain.RegistrationEntry, error) {
	if cached := c.snapshot.Load(); cached != nil {
		return *cached, nil
	}
	return c.Reload(ctx)
}

func (c *RegistrationCatalog) Reload(ctx context.Context) ([]domain.RegistrationEntry, error) {
	if c.Repo == nil {
		empty := []domain.RegistrationEntry{}
		c.snapshot.Store(&empty)
		return empty, nil
	}
	entries, err := c.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot.Store(&entries)
	return entries, nil
}
