package domain

import "time"

// EvidenceType tags an opaque evidence blob with the verifier that can
// interpret it. Adding a new evidence source means registering a new
// verifier for a new tag, not changing dispatch logic.
type EvidenceType string

const (
	EvidenceNodeDocument     EvidenceType = "node.document"
	EvidenceNodeJoinToken    EvidenceType = "node.join_token"
	EvidenceWorkloadMetadata EvidenceType = "workload.metadata"
)

// Evidence is an opaque attestation evidence blob. IssuedAt is asserted by
// the evidence source and checked against the acceptance window; stale
// evidence is rejected to defeat replay.
type Evidence struct {
	Type     EvidenceType `json:"type"`
	Payload  []byte       `json:"payload"`
	IssuedAt time.Time    `json:"issued_at"`
	Nonce    string       `json:"nonce,omitempty"`
}

type AttestationState string

const (
	NodeUnverified   AttestationState = "node_unverified"
	NodeVerified     AttestationState = "node_verified"
	WorkloadVerified AttestationState = "workload_verified"
	AttestRejected   AttestationState = "rejected"
)
