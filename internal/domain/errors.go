package domain

import "errors"

var (
	ErrAttestationFailed     = errors.New("attestation failed")
	ErrEvidenceStale         = errors.New("attestation evidence stale")
	ErrNoRegistration        = errors.New("no matching registration")
	ErrAmbiguousRegistration = errors.New("ambiguous registration match")
	ErrSigningUnavailable    = errors.New("signing backend unavailable")
	ErrBundleRejected        = errors.New("trust bundle rejected")
	ErrBundleSequence        = errors.New("trust bundle sequence not newer")
	ErrPeerNotActive         = errors.New("peer relationship not active")
	ErrPeerUnreachable       = errors.New("peer unreachable")
	ErrPeerUnknown           = errors.New("peer not configured")
	ErrBootstrapRequired     = errors.New("peer bootstrap not confirmed")
	ErrRevoked               = errors.New("identity revoked")
	ErrExpired               = errors.New("identity expired")
	ErrChainInvalid          = errors.New("certificate chain invalid")
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
)

// Retryable reports whether the caller may retry the failed operation
// unchanged. Security and configuration rejections are final: retrying them
// without fresh evidence or a config change only amplifies the rejection.
func Retryable(err error) bool {
	return errors.Is(err, ErrSigningUnavailable) || errors.Is(err, ErrPeerUnreachable)
}
