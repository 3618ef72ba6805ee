package soft

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"sync"
)

var errKeyNotFound = errors.New("private key not found")

// Manager holds CA signing keys in process memory. Key ids are derived from
// the public key so any holder of the certificate can recompute them.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func NewManager() *Manager {
	return &Manager{keys: make(map[string]ed25519.PrivateKey)}
}

func (m *Manager) Generate() (string, crypto.Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	kid, err := keyID(pub)
	if err != nil {
		return "", nil, err
	}
	m.mu.Lock()
	m.keys[kid] = append(ed25519.PrivateKey(nil), priv...)
	m.mu.Unlock()
	return kid, priv, nil
}

func (m *Manager) Signer(kid string) (crypto.Signer, error) {
	m.mu.RLock()
	key, ok := m.keys[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, errKeyNotFound
	}
	return key, nil
}

func (m *Manager) Sign(kid string, payload []byte) ([]byte, error) {
	m.mu.RLock()
	key, ok := m.keys[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, errKeyNotFound
	}
	return ed25519.Sign(key, payload), nil
}

func (m *Manager) Remove(kid string) {
	m.mu.Lock()
	delete(m.keys, kid)
	m.mu.Unlock()
}

func keyID(pub ed25519.PublicKey) (string, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(spki)
	return hex.EncodeToString(sum[:]), nil
}
