package nodedoc

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trustplane/internal/domain"
)

// Verifier checks platform-signed node documents. The document carries
// machine facts signed by a platform key the operator trusts out of band;
// each fact becomes a selector.
type Verifier struct {
	trustedKeys map[string]ed25519.PublicKey
}

type signedDocument struct {
	KeyID     string `json:"key_id"`
	Document  []byte `json:"document"`
	Signature []byte `json:"signature"`
}

type nodeDocument struct {
	InstanceID string            `json:"instance_id"`
	Zone       string            `json:"zone"`
	Image      string            `json:"image"`
	Labels     map[string]string `json:"labels,omitempty"`
}

func New(trustedKeys map[string]ed25519.PublicKey) *Verifier {
	keys := make(map[string]ed25519.PublicKey, len(trustedKeys))
	for id, key := range trustedKeys {
		keys[id] = append(ed25519.PublicKey(nil), key...)
	}
	return &Verifier{trustedKeys: keys}
}

// NewFromList builds a verifier from "key_id=base64-public-key" entries, the
// format used for the NODE_DOCUMENT_KEYS environment variable. Unlike join
// tokens, a malformed trusted key is a configuration error, not something to
// skip over.
func NewFromList(entries []string) (*Verifier, error) {
	keys := make(map[string]ed25519.PublicKey, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, encoded, ok := strings.Cut(entry, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed trusted key entry %q", entry)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("trusted key %q: %w", id, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trusted key %q: expected %d bytes, got %d", id, ed25519.PublicKeySize, len(raw))
		}
		keys[id] = ed25519.PublicKey(raw)
	}
	return &Verifier{trustedKeys: keys}, nil
}

func (v *Verifier) Type() domain.EvidenceType {
	return domain.EvidenceNodeDocument
}

func (v *Verifier) Verify(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var signed signedDocument
	if err := json.Unmarshal(ev.Payload, &signed); err != nil {
		return nil, fmt.Errorf("malformed node document envelope: %w", err)
	}
	key, ok := v.trustedKeys[signed.KeyID]
	if !ok {
		return nil, fmt.Errorf("unknown platform key %q", signed.KeyID)
	}
	if len(signed.Signature) != ed25519.SignatureSize {
		return nil, errors.New("invalid signature length")
	}
	if !ed25519.Verify(key, signed.Document, signed.Signature) {
		return nil, errors.New("node document signature verification failed")
	}
	var doc nodeDocument
	if err := json.Unmarshal(signed.Document, &doc); err != nil {
		return nil, fmt.Errorf("malformed node document: %w", err)
	}
	if doc.InstanceID == "" {
		return nil, errors.New("node document missing instance id")
	}

	selectors := domain.SelectorSet{
		{Type: "node", Key: "instance_id", Value: doc.InstanceID},
	}
	if doc.Zone != "" {
		selectors = append(selectors, domain.Selector{Type: "node", Key: "zone", Value: doc.Zone})
	}
	if doc.Image != "" {
		selectors = append(selectors, domain.Selector{Type: "node", Key: "image", Value: doc.Image})
	}
	for k, val := range doc.Labels {
		selectors = append(selectors, domain.Selector{Type: "node", Key: "label:" + k, Value: val})
	}
	return selectors, nil
}
