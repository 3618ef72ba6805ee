package domain

import "time"

// Revocation invalidates every outstanding identity document for a subject
// issued at or before RevokedAt, even if not yet expired. Records are
// append-only; they age out only after all possibly-affected documents have
// naturally expired.
type Revocation struct {
	ID        string
	SubjectID string
	RevokedAt time.Time
	Reason    string
	CreatedAt time.Time
}

// RevocationMode selects whether verification consults the revocation
// stream on every check or only when the caller flags the operation as
// sensitive. The safer always-check mode is the default.
type RevocationMode string

const (
	RevocationAlways   RevocationMode = "always"
	RevocationAdvisory RevocationMode = "advisory"
)
