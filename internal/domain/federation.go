package domain

import "time"

// PeerState is the directed relationship state toward one peer trust
// domain. Each relationship is an independent edge with its own state
// machine; federation is never a shared mutable graph.
type PeerState string

const (
	PeerUnconfigured     PeerState = "unconfigured"
	PeerPendingBootstrap PeerState = "pending_bootstrap"
	PeerActive           PeerState = "active"
	PeerDegraded         PeerState = "degraded"
)

// PeerRelationship is a snapshot of one federation edge. Degraded means the
// peer is unreachable: already-imported bundles stay valid, only new
// imports stop until connectivity resumes.
type PeerRelationship struct {
	TrustDomain  string       `json:"trust_domain"`
	Endpoint     string       `json:"endpoint"`
	State        PeerState    `json:"state"`
	Bundle       *TrustBundle `json:"-"`
	Sequence     uint64       `json:"sequence"`
	LastPollAt   time.Time    `json:"last_poll_at,omitzero"`
	LastImportAt time.Time    `json:"last_import_at,omitzero"`
	LastError    string       `json:"last_error,omitempty"`
}
