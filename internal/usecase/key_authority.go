package usecase

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"trustplane/internal/domain"

	"github.com/spiffe/go-spiffe/v2/bundle/spiffebundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

const signingRetries = 3

// KeyAuthority owns the root and intermediate signing keys for the local
// trust domain. Key state is an immutable-snapshot register: rotation never
// mutates an in-use key, it publishes a new bundle and a new active-key
// pointer atomically under the write lock. Normal issuance takes the read
// lock and runs fully parallel; only rotation is exclusive.
type KeyAuthority struct {
	TrustDomain          spiffeid.TrustDomain
	Keys                 domain.KeyStore
	Records              SigningKeyRepository
	Clock                Clock
	MaxTTL               time.Duration
	ClockSkew            time.Duration
	RotationGrace        time.Duration
	IntermediateLifetime time.Duration
	BundleRefreshHint    time.Duration

	mu      sync.RWMutex
	root    domain.CACertificate
	active  domain.CACertificate
	pending *pendingAuthority
	retired []retiredAuthority
	bundle  domain.TrustBundle
}

type pendingAuthority struct {
	authority domain.CACertificate
	promoteAt time.Time
}

type retiredAuthority struct {
	authority domain.CACertificate
	dropAt    time.Time
}

type KeyAuthorityConfig struct {
	TrustDomain          spiffeid.TrustDomain
	Keys                 domain.KeyStore
	Records              SigningKeyRepository
	Clock                Clock
	MaxTTL               time.Duration
	ClockSkew            time.Duration
	RotationGrace        time.Duration
	IntermediateLifetime time.Duration
	BundleRefreshHint    time.Duration
}

// NewKeyAuthority bootstraps a fresh trust domain: a self-signed root, one
// active intermediate and the first bundle at sequence 1.
func NewKeyAuthority(ctx context.Context, cfg KeyAuthorityConfig) (*KeyAuthority, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key store is required")
	}
	if cfg.MaxTTL <= 0 {
		return nil, fmt.Errorf("max ttl must be positive")
	}
	a := &KeyAuthority{
		TrustDomain:          cfg.TrustDomain,
		Keys:                 cfg.Keys,
		Records:              cfg.Records,
		Clock:                cfg.Clock,
		MaxTTL:               cfg.MaxTTL,
		ClockSkew:            cfg.ClockSkew,
		RotationGrace:        cfg.RotationGrace,
		IntermediateLifetime: cfg.IntermediateLifetime,
		BundleRefreshHint:    cfg.BundleRefreshHint,
	}
	if a.IntermediateLifetime <= 0 {
		a.IntermediateLifetime = 90 * 24 * time.Hour
	}
	now := a.now()

	root, err := a.createRoot(now)
	if err != nil {
		return nil, err
	}
	a.root = root

	intermediate, err := a.createIntermediate(now)
	if err != nil {
		return nil, err
	}
	a.active = intermediate

	a.bundle = a.buildBundleLocked(1, now)

	if a.Records != nil {
		for _, rec := range []struct {
			authority domain.CACertificate
			purpose   domain.KeyPurpose
		}{
			{root, domain.KeyPurposeRoot},
			{intermediate, domain.KeyPurposeIntermediate},
		} {
			if err := a.Records.Create(ctx, domain.SigningKey{
				KID:       rec.authority.KID,
				Purpose:   rec.purpose,
				Alg:       "ed25519",
				PublicKey: rec.authority.Cert.RawSubjectPublicKeyInfo,
				CertDER:   rec.authority.Cert.Raw,
				Status:    domain.KeyStatusActive,
				CreatedAt: now,
			}); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Issue signs a short-lived identity document for the given subject. A
// requested TTL beyond the configured maximum is not an error: it is
// silently clamped, so callers must read the issued document's actual
// expiry rather than assume the requested value.
func (a *KeyAuthority) Issue(ctx context.Context, id spiffeid.ID, pub crypto.PublicKey, requestedTTL time.Duration, selectorFingerprint string) (domain.IdentityDocument, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdentityDocument{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	if id.TrustDomain() != a.TrustDomain {
		return domain.IdentityDocument{}, fmt.Errorf("subject %s outside trust domain %s", id, a.TrustDomain)
	}
	a.maybePromote()

	ttl := requestedTTL
	if ttl <= 0 || ttl > a.MaxTTL {
		ttl = a.MaxTTL
	}

	a.mu.RLock()
	signingAuthority := a.active
	a.mu.RUnlock()

	now := a.now()
	serial, err := randomSerial()
	if err != nil {
		return domain.IdentityDocument{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		URIs:                  []*url.URL{id.URL()},
		NotBefore:             now.Add(-a.ClockSkew),
		NotAfter:              now.Add(ttl),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := a.signCertificate(ctx, template, signingAuthority, pub)
	if err != nil {
		return domain.IdentityDocument{}, err
	}

	return domain.IdentityDocument{
		SerialNumber:        serial.Text(16),
		ID:                  id,
		IssuedAt:            now,
		ExpiresAt:           now.Add(ttl),
		CertChainDER:        [][]byte{der, signingAuthority.Cert.Raw},
		SelectorFingerprint: selectorFingerprint,
		SigningKID:          signingAuthority.KID,
	}, nil
}

// Rotate generates a new intermediate and publishes a bundle containing
// both old and new material. The authority keeps signing with the old key
// for the propagation grace period, so no verifier ever meets a signature
// the bundle it holds cannot validate.
func (a *KeyAuthority) Rotate(ctx context.Context) (domain.TrustBundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	next, err := a.createIntermediate(now)
	if err != nil {
		return domain.TrustBundle{}, err
	}
	if a.pending != nil {
		// A superseded pending key never signed anything; drop its private
		// material instead of holding it until process exit.
		a.Keys.Remove(a.pending.authority.KID)
	}
	a.pending = &pendingAuthority{authority: next, promoteAt: now.Add(a.RotationGrace)}

	a.pruneRetiredLocked(now)
	a.bundle = a.buildBundleLocked(a.bundle.Sequence+1, now)

	if a.Records != nil {
		if err := a.Records.Create(ctx, domain.SigningKey{
			KID:       next.KID,
			Purpose:   domain.KeyPurposeIntermediate,
			Alg:       "ed25519",
			PublicKey: next.Cert.RawSubjectPublicKeyInfo,
			CertDER:   next.Cert.Raw,
			Status:    domain.KeyStatusPending,
			CreatedAt: now,
		}); err != nil {
			return domain.TrustBundle{}, err
		}
	}
	return a.bundle, nil
}

// Bundle returns the current bundle snapshot.
func (a *KeyAuthority) Bundle() domain.TrustBundle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bundle
}

// ActiveKID reports the key currently used for signing.
func (a *KeyAuthority) ActiveKID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active.KID
}

// SignedBundle marshals the current bundle in SPIFFE bundle format and
// signs it with the root key for federation export.
func (a *KeyAuthority) SignedBundle(ctx context.Context) (domain.SignedBundle, error) {
	a.mu.RLock()
	bundle := a.bundle
	rootKID := a.root.KID
	a.mu.RUnlock()

	doc := spiffebundle.New(bundle.TrustDomain)
	doc.SetSequenceNumber(bundle.Sequence)
	if bundle.RefreshHint > 0 {
		doc.SetRefreshHint(bundle.RefreshHint)
	}
	for _, authority := range bundle.Authorities {
		doc.AddX509Authority(authority)
	}
	payload, err := doc.Marshal()
	if err != nil {
		return domain.SignedBundle{}, err
	}
	sig, err := a.Keys.Sign(rootKID, payload)
	if err != nil {
		return domain.SignedBundle{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	return domain.SignedBundle{
		TrustDomain: bundle.TrustDomain.Name(),
		Payload:     payload,
		SignerKID:   rootKID,
		Signature:   sig,
	}, nil
}

// PromoteIfDue retires the pre-rotation key once the grace period has
// elapsed. Safe to call from a ticker; a no-op when nothing is pending.
func (a *KeyAuthority) PromoteIfDue(ctx context.Context) (bool, error) {
	if !a.maybePromote() {
		return false, nil
	}
	if a.Records != nil {
		a.mu.RLock()
		activeKID := a.active.KID
		var retiredKID string
		if n := len(a.retired); n > 0 {
			retiredKID = a.retired[n-1].authority.KID
		}
		a.mu.RUnlock()
		if err := a.Records.UpdateStatus(ctx, activeKID, domain.KeyStatusActive); err != nil {
			return true, err
		}
		if retiredKID != "" {
			if err := a.Records.UpdateStatus(ctx, retiredKID, domain.KeyStatusRetired); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (a *KeyAuthority) maybePromote() bool {
	a.mu.RLock()
	due := a.pending != nil && !a.now().Before(a.pending.promoteAt)
	a.mu.RUnlock()
	if !due {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil || a.now().Before(a.pending.promoteAt) {
		return false
	}
	now := a.now()
	a.retired = append(a.retired, retiredAuthority{
		authority: a.active,
		// Retired material stays in the bundle until every document it
		// could have signed has expired, plus skew.
		dropAt: now.Add(a.MaxTTL + a.ClockSkew),
	})
	a.active = a.pending.authority
	a.pending = nil
	return true
}

func (a *KeyAuthority) signCertificate(ctx context.Context, template *x509.Certificate, parent domain.CACertificate, pub crypto.PublicKey) ([]byte, error) {
	var lastErr error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < signingRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
		}
		signer, err := a.Keys.Signer(parent.KID)
		if err != nil {
			lastErr = err
		} else {
			der, err := x509.CreateCertificate(rand.Reader, template, parent.Cert, pub, signer)
			if err == nil {
				return der, nil
			}
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, lastErr)
}

func (a *KeyAuthority) createRoot(now time.Time) (domain.CACertificate, error) {
	kid, signer, err := a.Keys.Generate()
	if err != nil {
		return domain.CACertificate{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return domain.CACertificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "trustplane-root"},
		URIs:                  []*url.URL{a.TrustDomain.ID().URL()},
		NotBefore:             now.Add(-a.ClockSkew),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return domain.CACertificate{}, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return domain.CACertificate{}, err
	}
	return domain.CACertificate{KID: kid, Cert: cert}, nil
}

func (a *KeyAuthority) createIntermediate(now time.Time) (domain.CACertificate, error) {
	kid, signer, err := a.Keys.Generate()
	if err != nil {
		return domain.CACertificate{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return domain.CACertificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "trustplane-intermediate"},
		URIs:                  []*url.URL{a.TrustDomain.ID().URL()},
		NotBefore:             now.Add(-a.ClockSkew),
		NotAfter:              now.Add(a.IntermediateLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	rootSigner, err := a.Keys.Signer(a.root.KID)
	if err != nil {
		return domain.CACertificate{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.root.Cert, signer.Public(), rootSigner)
	if err != nil {
		return domain.CACertificate{}, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return domain.CACertificate{}, err
	}
	return domain.CACertificate{KID: kid, Cert: cert}, nil
}

func (a *KeyAuthority) buildBundleLocked(sequence uint64, now time.Time) domain.TrustBundle {
	authorities := []*x509.Certificate{a.root.Cert, a.active.Cert}
	if a.pending != nil {
		authorities = append(authorities, a.pending.authority.Cert)
	}
	for _, r := range a.retired {
		authorities = append(authorities, r.authority.Cert)
	}
	return domain.TrustBundle{
		TrustDomain: a.TrustDomain,
		Sequence:    sequence,
		Authorities: authorities,
		RefreshHint: a.BundleRefreshHint,
		CreatedAt:   now,
	}
}

func (a *KeyAuthority) pruneRetiredLocked(now time.Time) {
	kept := a.retired[:0]
	for _, r := range a.retired {
		if now.Before(r.dropAt) {
			kept = append(kept, r)
			continue
		}
		a.Keys.Remove(r.authority.KID)
	}
	a.retired = kept
}

func (a *KeyAuthority) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}
