package http

import (
	"net/http"
	"time"

	"trustplane/internal/config"
	"trustplane/internal/domain"
	"trustplane/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	issuance   *usecase.IssuanceCoordinator
	verifier   *usecase.DocumentVerifier
	authority  *usecase.KeyAuthority
	federation *usecase.FederationManager
	policy     *usecase.PolicyEngine
	revocation *usecase.RevocationService
	catalog    *usecase.RegistrationCatalog

	registrations usecase.RegistrationRepository
	auditEvents   usecase.AuditEventRepository
	audit         *usecase.AuditEmitter

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Issuance      *usecase.IssuanceCoordinator
	Verifier      *usecase.DocumentVerifier
	Authority     *usecase.KeyAuthority
	Federation    *usecase.FederationManager
	Policy        *usecase.PolicyEngine
	Revocation    *usecase.RevocationService
	Catalog       *usecase.RegistrationCatalog
	Registrations usecase.RegistrationRepository
	AuditEvents   usecase.AuditEventRepository
	Audit         *usecase.AuditEmitter
	RateLimiter   domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		issuance:      deps.Issuance,
		verifier:      deps.Verifier,
		authority:     deps.Authority,
		federation:    deps.Federation,
		policy:        deps.Policy,
		revocation:    deps.Revocation,
		catalog:       deps.Catalog,
		registrations: deps.Registrations,
		auditEvents:   deps.AuditEvents,
		audit:         deps.Audit,
		adminAPIKey:   cfg.AdminAPIKey,
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "trust_domain": s.cfg.TrustDomain})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/identities", s.handleIssueIdentity)
		v1.POST("/identities/verify", s.handleVerifyIdentity)
		v1.GET("/trust-bundle", s.handleTrustBundle)
		v1.POST("/decisions", s.handleDecision)

		v1.GET("/federation/peers", s.handleListPeers)
		v1.POST("/federation/peers", s.handleConfigurePeer)
		v1.POST("/federation/peers/:trust_domain/bootstrap", s.handleBootstrapPeer)
		v1.POST("/federation/peers/:trust_domain/bundle", s.handleImportBundle)

		admin := v1.Group("/admin")
		{
			admin.GET("/registrations", s.handleListRegistrations)
			admin.POST("/registrations", s.handleCreateRegistration)
			admin.DELETE("/registrations/:id", s.handleDeleteRegistration)

			admin.GET("/policies", s.handleListPolicies)
			admin.POST("/policies", s.handleCreatePolicy)
			admin.DELETE("/policies/:id", s.handleDeletePolicy)

			admin.POST("/rotate", s.handleRotate)
			admin.POST("/revocations", s.handleRevoke)
			admin.GET("/revocations", s.handleListRevocations)
			admin.GET("/audit-events", s.handleListAuditEvents)
		}
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
