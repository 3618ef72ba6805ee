package http

import (
	"errors"
	"net/http"

	"trustplane/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrAttestationFailed):
		status, code = http.StatusForbidden, "ATTESTATION_FAILED"
	case errors.Is(err, domain.ErrEvidenceStale):
		status, code = http.StatusForbidden, "EVIDENCE_STALE"
	case errors.Is(err, domain.ErrNoRegistration):
		status, code = http.StatusForbidden, "NO_REGISTRATION"
	case errors.Is(err, domain.ErrAmbiguousRegistration):
		status, code = http.StatusConflict, "AMBIGUOUS_REGISTRATION"
	case errors.Is(err, domain.ErrSigningUnavailable):
		status, code = http.StatusServiceUnavailable, "SIGNING_UNAVAILABLE"
	case errors.Is(err, domain.ErrBundleSequence):
		status, code = http.StatusConflict, "BUNDLE_SEQUENCE"
	case errors.Is(err, domain.ErrBundleRejected):
		status, code = http.StatusBadRequest, "BUNDLE_REJECTED"
	case errors.Is(err, domain.ErrBootstrapRequired):
		status, code = http.StatusConflict, "BOOTSTRAP_REQUIRED"
	case errors.Is(err, domain.ErrPeerUnknown):
		status, code = http.StatusNotFound, "PEER_UNKNOWN"
	case errors.Is(err, domain.ErrPeerNotActive):
		status, code = http.StatusConflict, "PEER_NOT_ACTIVE"
	case errors.Is(err, domain.ErrPeerUnreachable):
		status, code = http.StatusBadGateway, "PEER_UNREACHABLE"
	case errors.Is(err, domain.ErrRevoked):
		status, code = http.StatusForbidden, "REVOKED"
	case errors.Is(err, domain.ErrExpired):
		status, code = http.StatusForbidden, "EXPIRED"
	case errors.Is(err, domain.ErrChainInvalid):
		status, code = http.StatusBadRequest, "CHAIN_INVALID"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
