package http

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/usecase"

	"github.com/gin-gonic/gin"
)

type issueRequest struct {
	NodeEvidence     domain.Evidence `json:"node_evidence"`
	WorkloadEvidence domain.Evidence `json:"workload_evidence"`
	PublicKey        string          `json:"public_key"`
	TTLSeconds       int64           `json:"ttl_seconds,omitempty"`
}

type issueResponse struct {
	SerialNumber string    `json:"serial_number"`
	ID           string    `json:"id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CertChain    []string  `json:"cert_chain"`
	SigningKID   string    `json:"signing_kid"`
}

func (s *Server) handleIssueIdentity(c *gin.Context) {
	if !s.enforceRateLimit(c, "identities:issue") {
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.PublicKey == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "public_key is required")
		return
	}
	keyDER, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "public_key is not valid base64")
		return
	}
	pub, err := x509.ParsePKIXPublicKey(keyDER)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "public_key is not a valid PKIX key")
		return
	}

	ctx := c.Request.Context()
	if d := s.cfg.SigningTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	doc, err := s.issuance.RequestIdentity(ctx, usecase.IdentityRequest{
		NodeEvidence:     req.NodeEvidence,
		WorkloadEvidence: req.WorkloadEvidence,
		PublicKey:        pub,
		RequestedTTL:     time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	chain := make([]string, 0, len(doc.CertChainDER))
	for _, der := range doc.CertChainDER {
		chain = append(chain, base64.StdEncoding.EncodeToString(der))
	}
	c.JSON(http.StatusCreated, issueResponse{
		SerialNumber: doc.SerialNumber,
		ID:           doc.ID.String(),
		IssuedAt:     doc.IssuedAt,
		ExpiresAt:    doc.ExpiresAt,
		CertChain:    chain,
		SigningKID:   doc.SigningKID,
	})
}

type verifyRequest struct {
	CertChain []string `json:"cert_chain"`
	Sensitive bool     `json:"sensitive,omitempty"`
}

func (s *Server) handleVerifyIdentity(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	chainDER := make([][]byte, 0, len(req.CertChain))
	for _, encoded := range req.CertChain {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "cert_chain entry is not valid base64")
			return
		}
		chainDER = append(chainDER, der)
	}
	result, err := s.verifier.Verify(c.Request.Context(), chainDER, req.Sensitive)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDecision(c *gin.Context) {
	var req usecase.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.SubjectID == "" || req.Action == "" || req.Resource == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "subject_id, action and resource are required")
		return
	}
	decision, err := s.policy.Evaluate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
