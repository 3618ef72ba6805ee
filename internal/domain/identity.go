package domain

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// IdentityDocument is a short-lived credential issued to a workload after
// successful attestation. It is immutable once issued: rotation or refresh
// always means issuing a new document, never mutating an old one.
type IdentityDocument struct {
	SerialNumber        string
	ID                  spiffeid.ID
	IssuedAt            time.Time
	ExpiresAt           time.Time
	CertChainDER        [][]byte
	SelectorFingerprint string
	SigningKID          string
}

func (d IdentityDocument) TTL() time.Duration {
	return d.ExpiresAt.Sub(d.IssuedAt)
}

// CertChain parses the embedded chain, leaf first.
func (d IdentityDocument) CertChain() ([]*x509.Certificate, error) {
	if len(d.CertChainDER) == 0 {
		return nil, errors.New("identity document has no certificate chain")
	}
	chain := make([]*x509.Certificate, 0, len(d.CertChainDER))
	for _, der := range d.CertChainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func (d IdentityDocument) LeafCertificate() (*x509.Certificate, error) {
	chain, err := d.CertChain()
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// ExpiredAt reports whether the document is past expiry at the given time,
// allowing for the configured clock skew between issuer and verifier.
func (d IdentityDocument) ExpiredAt(now time.Time, skew time.Duration) bool {
	return now.After(d.ExpiresAt.Add(skew))
}
