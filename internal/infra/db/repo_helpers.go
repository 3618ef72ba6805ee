package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// errDBUnavailable is what every repository returns when the Store was
// opened without a database handle.
var errDBUnavailable = errors.New("db unavailable")

// NewUUID returns a random (version 4) UUID. Record identifiers are
// generated here rather than by the database so handlers can echo the
// id back before the insert commits.
func NewUUID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80
	s := hex.EncodeToString(raw[:])
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:], nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
