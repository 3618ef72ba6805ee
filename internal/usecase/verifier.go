package usecase

import (
	"context"
	"crypto/x509"
	"fmt"
	"log"
	"time"

	"trustplane/internal/domain"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
)

// DocumentVerifier validates presented identity documents: chain to a
// trusted authority, lifetime with skew tolerance, and revocation.
type DocumentVerifier struct {
	Bundles     x509bundle.Source
	Revocations RevocationChecker
	Mode        domain.RevocationMode
	ClockSkew   time.Duration
	Clock       Clock
}

// RevocationChecker answers whether a subject was revoked at or before the
// given issuance time.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, subjectID string, issuedAt time.Time) (bool, error)
}

// BundleRefresher is implemented by bundle sources that can refresh a
// peer's bundle on demand ahead of cross-domain verification.
type BundleRefresher interface {
	RefreshIfStale(ctx context.Context, trustDomain string)
}

// VerifyResult reports the verified identity of a presented chain.
type VerifyResult struct {
	ID         string    `json:"id"`
	ExpiresAt  time.Time `json:"expires_at"`
	SigningKID string    `json:"signing_kid,omitempty"`
}

// Verify checks a presented DER chain end to end. sensitive forces a
// revocation-store failure to reject even in advisory mode.
func (v *DocumentVerifier) Verify(ctx context.Context, chainDER [][]byte, sensitive bool) (VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return VerifyResult{}, err
	}
	if len(chainDER) == 0 {
		return VerifyResult{}, fmt.Errorf("%w: empty chain", domain.ErrChainInvalid)
	}
	chain := make([]*x509.Certificate, 0, len(chainDER))
	for _, der := range chainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrChainInvalid, err)
		}
		chain = append(chain, cert)
	}

	now := v.now()
	leaf := chain[0]
	if now.After(leaf.NotAfter.Add(v.ClockSkew)) {
		return VerifyResult{}, fmt.Errorf("%w: document expired at %s", domain.ErrExpired, leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	if now.Add(v.ClockSkew).Before(leaf.NotBefore) {
		return VerifyResult{}, fmt.Errorf("%w: document not valid until %s", domain.ErrChainInvalid, leaf.NotBefore.UTC().Format(time.RFC3339))
	}

	if refresher, ok := v.Bundles.(BundleRefresher); ok && len(leaf.URIs) == 1 {
		if id, err := spiffeid.FromURI(leaf.URIs[0]); err == nil {
			refresher.RefreshIfStale(ctx, id.TrustDomain().Name())
		}
	}

	// Path validation happens at an instant inside the leaf's lifetime:
	// the skewed checks above already bounded now to within ClockSkew of
	// it, so the clamp concedes at most that much.
	verifyAt := now
	if verifyAt.After(leaf.NotAfter) {
		verifyAt = leaf.NotAfter
	}
	if verifyAt.Before(leaf.NotBefore) {
		verifyAt = leaf.NotBefore
	}
	id, _, err := x509svid.Verify(chain, v.Bundles, x509svid.WithTime(verifyAt))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", domain.ErrChainInvalid, err)
	}

	if v.Revocations != nil {
		revoked, err := v.Revocations.IsRevoked(ctx, id.String(), leaf.NotBefore)
		if err != nil {
			if v.Mode == domain.RevocationAdvisory && !sensitive {
				log.Printf("verify: revocation check unavailable, accepting %s in advisory mode: %v", id, err)
			} else {
				return VerifyResult{}, fmt.Errorf("%w: revocation status unavailable", domain.ErrRevoked)
			}
		} else if revoked {
			return VerifyResult{}, fmt.Errorf("%w: %s", domain.ErrRevoked, id)
		}
	}

	return VerifyResult{
		ID:        id.String(),
		ExpiresAt: leaf.NotAfter.UTC(),
	}, nil
}

func (v *DocumentVerifier) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}
