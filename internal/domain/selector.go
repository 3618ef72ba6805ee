package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Selector is one atomic fact about a node or workload, e.g.
// {node, instance_id, i-0abc123} or {workload, namespace, payments}.
type Selector struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s Selector) String() string {
	return s.Type + ":" + s.Key + "=" + s.Value
}

type SelectorSet []Selector

// Fingerprint returns a stable hash of the set, independent of ordering and
// duplicates. It is embedded in issued identity documents so a verifier can
// tell which attested facts justified issuance.
func (set SelectorSet) Fingerprint() string {
	seen := make(map[string]struct{}, len(set))
	lines := make([]string, 0, len(set))
	for _, sel := range set {
		s := sel.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		lines = append(lines, s)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// ContainsAll reports whether every selector in required is present in set.
// Registration entries match on subset containment: the workload may present
// extra contextual selectors not required by any single entry.
func (set SelectorSet) ContainsAll(required SelectorSet) bool {
	if len(required) == 0 {
		return false
	}
	index := make(map[string]struct{}, len(set))
	for _, sel := range set {
		index[sel.String()] = struct{}{}
	}
	for _, sel := range required {
		if _, ok := index[sel.String()]; !ok {
			return false
		}
	}
	return true
}

// Merge returns the union of both sets with duplicates removed.
func (set SelectorSet) Merge(other SelectorSet) SelectorSet {
	seen := make(map[string]struct{}, len(set)+len(other))
	out := make(SelectorSet, 0, len(set)+len(other))
	for _, group := range []SelectorSet{set, other} {
		for _, sel := range group {
			s := sel.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, sel)
		}
	}
	return out
}
