package http

import (
	"net/http"

	"trustplane/internal/domain"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleTrustBundle(c *gin.Context) {
	signed, err := s.federation.Export(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signed)
}

func (s *Server) handleListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": s.federation.Peers()})
}

type configurePeerRequest struct {
	TrustDomain string `json:"trust_domain"`
	Endpoint    string `json:"endpoint"`
	Actor       string `json:"actor"`
	Reason      string `json:"reason"`
}

func (s *Server) handleConfigurePeer(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req configurePeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.TrustDomain == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "trust_domain is required")
		return
	}
	actor, reason, ok := adminAttribution(c, req.Actor, req.Reason)
	if !ok {
		return
	}
	if err := s.federation.ConfigurePeer(req.TrustDomain, req.Endpoint); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	s.audit.EmitAdminWrite(c.Request.Context(), domain.AuditEventPeerWrite, domain.AuditTargetPeer, req.TrustDomain, actor, reason)
	c.JSON(http.StatusCreated, gin.H{"trust_domain": req.TrustDomain, "state": domain.PeerPendingBootstrap})
}

type bootstrapRequest struct {
	Bundle domain.SignedBundle `json:"bundle"`
	Actor  string              `json:"actor"`
	Reason string              `json:"reason"`
}

// Bootstrap is the only trust-on-first-use path, so it demands the admin
// key and a recorded reason.
func (s *Server) handleBootstrapPeer(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	trustDomain := c.Param("trust_domain")
	var req bootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Reason == "" || req.Actor == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "actor and reason are required for bootstrap")
		return
	}
	if err := s.federation.Bootstrap(c.Request.Context(), trustDomain, req.Bundle, req.Actor, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_domain": trustDomain, "state": domain.PeerActive})
}

func (s *Server) handleImportBundle(c *gin.Context) {
	trustDomain := c.Param("trust_domain")
	var signed domain.SignedBundle
	if err := c.ShouldBindJSON(&signed); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.federation.Import(c.Request.Context(), trustDomain, signed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_domain": trustDomain, "state": domain.PeerActive})
}
