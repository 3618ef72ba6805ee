package domain

import (
	"crypto"
	"crypto/x509"
	"time"
)

type KeyPurpose string

const (
	KeyPurposeRoot         KeyPurpose = "root"
	KeyPurposeIntermediate KeyPurpose = "intermediate"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusPending KeyStatus = "pending"
	KeyStatusRetired KeyStatus = "retired"
)

// SigningKey is the durable record of an authority key: public material and
// certificate only, never the private half.
type SigningKey struct {
	KID       string
	Purpose   KeyPurpose
	Alg       string
	PublicKey []byte
	CertDER   []byte
	Status    KeyStatus
	CreatedAt time.Time
	RetireAt  *time.Time
}

// CACertificate pairs a key handle with its certificate for signing.
type CACertificate struct {
	KID  string
	Cert *x509.Certificate
}

// KeyStore holds private key material and performs signing with it. The
// store never hands the private key out; callers get a crypto.Signer handle.
type KeyStore interface {
	Generate() (kid string, signer crypto.Signer, err error)
	Signer(kid string) (crypto.Signer, error)
	Sign(kid string, payload []byte) ([]byte, error)
	Remove(kid string)
}
