package jointoken

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"trustplane/internal/domain"
)

// Verifier checks single-use join tokens handed to a node operator out of
// band. A token attests exactly once; replaying a spent token fails even if
// the value is correct.
type Verifier struct {
	mu     sync.Mutex
	tokens map[string]string // token hash -> node name
	spent  map[string]bool
}

func New(tokens map[string]string) *Verifier {
	hashed := make(map[string]string, len(tokens))
	for token, name := range tokens {
		hashed[hashToken(token)] = name
	}
	return &Verifier{tokens: hashed, spent: make(map[string]bool)}
}

// NewFromList accepts "token=name" pairs, the shape they take in config.
func NewFromList(entries []string) *Verifier {
	tokens := make(map[string]string, len(entries))
	for _, entry := range entries {
		token, name, ok := strings.Cut(entry, "=")
		if !ok || token == "" || name == "" {
			continue
		}
		tokens[token] = name
	}
	return New(tokens)
}

func (v *Verifier) Type() domain.EvidenceType {
	return domain.EvidenceNodeJoinToken
}

func (v *Verifier) Verify(ctx context.Context, ev domain.Evidence) (domain.SelectorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(string(ev.Payload))
	if token == "" {
		return nil, errors.New("empty join token")
	}
	hash := hashToken(token)

	v.mu.Lock()
	defer v.mu.Unlock()
	name, ok := v.lookup(hash)
	if !ok {
		return nil, errors.New("unknown join token")
	}
	if v.spent[hash] {
		return nil, errors.New("join token already used")
	}
	v.spent[hash] = true

	return domain.SelectorSet{
		{Type: "node", Key: "join_token", Value: name},
	}, nil
}

// lookup compares in constant time over every registered token so a miss
// and a hit take the same path.
func (v *Verifier) lookup(hash string) (string, bool) {
	var name string
	var found bool
	for candidate, n := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1 {
			name = n
			found = true
		}
	}
	return name, found
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
