package http

import (
	"net/http"
	"strconv"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/infra/db"

	"github.com/gin-gonic/gin"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

type registrationRequest struct {
	ID         string            `json:"id,omitempty"`
	SPIFFEID   string            `json:"spiffe_id"`
	Selectors  []domain.Selector `json:"selectors"`
	TTLSeconds int64             `json:"ttl_seconds,omitempty"`
	Scopes     []string          `json:"scopes,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// adminAttribution pulls the acting operator and their stated reason from a
// mutation request. Every admin write records both in the audit trail, so
// requests without them are rejected.
func adminAttribution(c *gin.Context, actor, reason string) (string, string, bool) {
	if actor == "" || reason == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "actor and reason are required")
		return "", "", false
	}
	return actor, reason, true
}

func (s *Server) handleListRegistrations(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	entries, err := s.registrations.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]registrationRequest, 0, len(entries))
	for _, e := range entries {
		out = append(out, registrationRequest{
			ID:         e.ID,
			SPIFFEID:   e.SPIFFEID.String(),
			Selectors:  e.Selectors,
			TTLSeconds: int64(e.TTL / time.Second),
			Scopes:     e.Scopes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"registrations": out})
}

func (s *Server) handleCreateRegistration(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	id, err := spiffeid.FromString(req.SPIFFEID)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "spiffe_id is invalid")
		return
	}
	if len(req.Selectors) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "at least one selector is required")
		return
	}
	actor, reason, ok := adminAttribution(c, req.Actor, req.Reason)
	if !ok {
		return
	}
	entryID := req.ID
	if entryID == "" {
		entryID, err = db.NewUUID()
		if err != nil {
			writeError(c, err)
			return
		}
	}
	entry := domain.RegistrationEntry{
		ID:        entryID,
		SPIFFEID:  id,
		Selectors: req.Selectors,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Scopes:    req.Scopes,
	}
	if err := s.registrations.Create(c.Request.Context(), entry); err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.catalog.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.audit.EmitAdminWrite(c.Request.Context(), domain.AuditEventRegistrationWrite, domain.AuditTargetRegistration, entryID, actor, reason)
	c.JSON(http.StatusCreated, gin.H{"id": entryID})
}

func (s *Server) handleDeleteRegistration(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	id := c.Param("id")
	actor, reason, ok := adminAttribution(c, c.Query("actor"), c.Query("reason"))
	if !ok {
		return
	}
	if err := s.registrations.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.catalog.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.audit.EmitAdminWrite(c.Request.Context(), domain.AuditEventRegistrationWrite, domain.AuditTargetRegistration, id, actor, reason)
	c.Status(http.StatusNoContent)
}

type policyRuleRequest struct {
	ID              string `json:"id,omitempty"`
	Effect          string `json:"effect"`
	SubjectPattern  string `json:"subject_pattern"`
	ActionPattern   string `json:"action_pattern"`
	ResourcePattern string `json:"resource_pattern"`
	Condition       string `json:"condition,omitempty"`
	Actor           string `json:"actor,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (s *Server) handleListPolicies(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	rules, err := s.policy.Rules.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	version, err := s.policy.Rules.GetVersion(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version, "rules": rules})
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req policyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	actor, reason, ok := adminAttribution(c, req.Actor, req.Reason)
	if !ok {
		return
	}
	ruleID := req.ID
	if ruleID == "" {
		var err error
		ruleID, err = db.NewUUID()
		if err != nil {
			writeError(c, err)
			return
		}
	}
	rule := domain.PolicyRule{
		ID:              ruleID,
		Effect:          domain.PolicyEffect(req.Effect),
		SubjectPattern:  req.SubjectPattern,
		ActionPattern:   req.ActionPattern,
		ResourcePattern: req.ResourcePattern,
		Condition:       req.Condition,
	}
	if err := s.policy.AddRule(c.Request.Context(), rule, actor, reason); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RULE", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ruleID})
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	actor, reason, ok := adminAttribution(c, c.Query("actor"), c.Query("reason"))
	if !ok {
		return
	}
	if err := s.policy.RemoveRule(c.Request.Context(), c.Param("id"), actor, reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rotateRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleRotate(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	actor, reason, ok := adminAttribution(c, req.Actor, req.Reason)
	if !ok {
		return
	}
	bundle, err := s.authority.Rotate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit.EmitKeyRotated(c.Request.Context(), actor, reason, bundle, s.authority.ActiveKID())
	c.JSON(http.StatusOK, gin.H{
		"sequence":    bundle.Sequence,
		"authorities": len(bundle.Authorities),
	})
}

type revokeRequest struct {
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

func (s *Server) handleRevoke(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.SubjectID == "" || req.Reason == "" || req.Actor == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "subject_id, reason and actor are required")
		return
	}
	rev, epoch, err := s.revocation.Revoke(c.Request.Context(), req.SubjectID, req.Reason, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         rev.ID,
		"subject_id": rev.SubjectID,
		"revoked_at": rev.RevokedAt,
		"epoch":      epoch,
	})
}

func (s *Server) handleListRevocations(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	revs, err := s.revocation.Revocations.List(c.Request.Context(), c.Query("subject_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revocations": revs})
}

func (s *Server) handleListAuditEvents(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
		return
	}
	events, err := s.auditEvents.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
