package usecase

import (
	"context"
	"crypto"
	"errors"
	"time"

	"trustplane/internal/domain"
)

// IdentityRequest carries one issuance attempt: attestation evidence for
// the node and the workload, and the public key the credential should bind.
type IdentityRequest struct {
	NodeEvidence     domain.Evidence
	WorkloadEvidence domain.Evidence
	PublicKey        crypto.PublicKey
	RequestedTTL     time.Duration
}

// IssuanceCoordinator orchestrates attestation, registration matching and
// signing. The sequence is strictly fail-fast: an attestation failure
// short-circuits before any registration lookup, an ambiguous match
// short-circuits before any signing. No partial credential is ever issued.
type IssuanceCoordinator struct {
	Attestor  *Attestor
	Matcher   *RegistrationMatcher
	Authority *KeyAuthority
	Audit     *AuditEmitter
}

// RequestIdentity is deliberately not idempotent: repeated calls with
// still-fresh evidence each mint a fresh document. Credentials are
// short-lived and meant to be refreshed; deduplicating issuance would buy a
// cache-invalidation bug class for no real saving.
func (c *IssuanceCoordinator) RequestIdentity(ctx context.Context, req IdentityRequest) (domain.IdentityDocument, error) {
	selectors, err := c.Attestor.Attest(ctx, req.NodeEvidence, req.WorkloadEvidence)
	if err != nil {
		c.Audit.EmitIdentityRejected(ctx, "", "attestation", err)
		return domain.IdentityDocument{}, err
	}

	entry, err := c.Matcher.Match(ctx, selectors)
	if err != nil {
		stage := "registration"
		if errors.Is(err, domain.ErrAmbiguousRegistration) {
			stage = "registration_ambiguous"
		}
		c.Audit.EmitIdentityRejected(ctx, "", stage, err)
		return domain.IdentityDocument{}, err
	}

	ttl := req.RequestedTTL
	if entry.TTL > 0 && (ttl <= 0 || entry.TTL < ttl) {
		ttl = entry.TTL
	}

	doc, err := c.Authority.Issue(ctx, entry.SPIFFEID, req.PublicKey, ttl, selectors.Fingerprint())
	if err != nil {
		c.Audit.EmitIdentityRejected(ctx, entry.SPIFFEID.String(), "signing", err)
		return domain.IdentityDocument{}, err
	}

	c.Audit.EmitIdentityIssued(ctx, doc)
	return doc, nil
}
