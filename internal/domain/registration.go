package domain

import (
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// RegistrationEntry maps a set of attestation selectors to the subject
// identity a matching workload receives. Entries are created and updated by
// the administrative interface only; the issuance path reads them.
type RegistrationEntry struct {
	ID        string
	SPIFFEID  spiffeid.ID
	Selectors SelectorSet
	// TTL overrides the authority maximum for this entry when set; the
	// effective TTL is still clamped by the authority maximum.
	TTL       time.Duration
	Scopes    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchResult is the outcome of matching a concrete SelectorSet against the
// registration state.
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchOne
	MatchAmbiguous
)
