package soft

import (
	"crypto/ed25519"
	"testing"
)

func TestGenerateSignRemove(t *testing.T) {
	m := NewManager()
	kid, signer, err := m.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if kid == "" {
		t.Fatalf("empty key id")
	}

	payload := []byte("payload")
	sig, err := m.Sign(kid, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pub, ok := signer.Public().(ed25519.PublicKey)
	if !ok {
		t.Fatalf("signer is not ed25519")
	}
	if !ed25519.Verify(pub, payload, sig) {
		t.Fatalf("signature does not verify")
	}

	if _, err := m.Signer(kid); err != nil {
		t.Fatalf("signer lookup: %v", err)
	}
	m.Remove(kid)
	if _, err := m.Sign(kid, payload); err == nil {
		t.Fatalf("removed key must not sign")
	}
}

func TestKeyIDDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a, err := keyID(pub)
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	b, _ := keyID(pub)
	if a != b {
		t.Fatalf("key id must be stable for the same public key")
	}
}

func TestSignUnknownKey(t *testing.T) {
	m := NewManager()
	if _, err := m.Sign("missing", []byte("x")); err == nil {
		t.Fatalf("unknown kid must error")
	}
}
