package domain

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// AuthorityKID derives the key identifier of a bundle authority from its
// public key material. The same derivation is used when generating keys, so
// a SignedBundle's SignerKID can be resolved against a held bundle.
func AuthorityKID(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

// TrustBundle is the set of currently valid signing authorities for a trust
// domain, versioned by a monotonically increasing sequence number. Bundles
// overlap during rotation: old and new authorities are both present for the
// grace window, never a hard cutover.
type TrustBundle struct {
	TrustDomain spiffeid.TrustDomain
	Sequence    uint64
	Authorities []*x509.Certificate
	RefreshHint time.Duration
	CreatedAt   time.Time
}

// HasAuthority reports whether cert is one of the bundle's authorities,
// compared by raw DER equality.
func (b TrustBundle) HasAuthority(cert *x509.Certificate) bool {
	for _, a := range b.Authorities {
		if bytes.Equal(a.Raw, cert.Raw) {
			return true
		}
	}
	return false
}

// X509Bundle adapts the bundle for go-spiffe chain verification.
func (b TrustBundle) X509Bundle() *x509bundle.Bundle {
	out := x509bundle.New(b.TrustDomain)
	for _, a := range b.Authorities {
		out.AddX509Authority(a)
	}
	return out
}

// SignedBundle is the wire envelope for federation exchange: the SPIFFE
// bundle document plus a detached signature by one of the exporting
// domain's authorities. An importer accepts it only when SignerKID names a
// key already present in the previously accepted bundle for that domain.
type SignedBundle struct {
	TrustDomain string `json:"trust_domain"`
	Payload     []byte `json:"payload"`
	SignerKID   string `json:"signer_kid"`
	Signature   []byte `json:"signature"`
}
