package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trustplane/internal/config"
	"trustplane/internal/domain"
	"trustplane/internal/infra/attest/jointoken"
	"trustplane/internal/infra/attest/nodedoc"
	"trustplane/internal/infra/attest/workloadmeta"
	"trustplane/internal/infra/cachemem"
	"trustplane/internal/infra/cacheredis"
	"trustplane/internal/infra/db"
	httpinfra "trustplane/internal/infra/http"
	"trustplane/internal/infra/keys/soft"
	"trustplane/internal/infra/logmem"
	"trustplane/internal/infra/memstore"
	"trustplane/internal/infra/peerhttp"
	"trustplane/internal/infra/policyopa"
	"trustplane/internal/infra/ratelimit"
	"trustplane/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trustDomain, err := spiffeid.TrustDomainFromString(cfg.TrustDomain)
	if err != nil {
		log.Fatalf("invalid trust domain %q: %v", cfg.TrustDomain, err)
	}

	conn, err := db.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	if conn == nil {
		log.Printf("no POSTGRES_DSN configured, running with in-memory state only")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	// Audit pipeline.
	var auditRepo usecase.AuditEventRepository
	if conn != nil {
		auditRepo = db.NewAuditEventRepository(conn)
	} else {
		auditRepo = logmem.New(0)
	}
	audit := usecase.NewAuditEmitter(auditRepo, nil, cfg.AuditQueueSize)
	go audit.Run(ctx)

	// Signing authority.
	var keyRecords usecase.SigningKeyRepository
	if conn != nil {
		keyRecords = db.NewSigningKeyRepository(conn)
	}
	authority, err := usecase.NewKeyAuthority(ctx, usecase.KeyAuthorityConfig{
		TrustDomain:       trustDomain,
		Keys:              soft.NewManager(),
		Records:           keyRecords,
		MaxTTL:            cfg.MaxTTL(),
		ClockSkew:         cfg.ClockSkew(),
		RotationGrace:     cfg.RotationGrace(),
		BundleRefreshHint: cfg.FederationPollInterval(),
	})
	if err != nil {
		log.Fatalf("failed to bootstrap key authority: %v", err)
	}

	// Attestation and registration.
	verifiers := []usecase.EvidenceVerifier{workloadmeta.New()}
	if cfg.JoinTokens != "" {
		verifiers = append(verifiers, jointoken.NewFromList(strings.Split(cfg.JoinTokens, ",")))
	}
	if cfg.NodeDocumentKeys != "" {
		nodeVerifier, err := nodedoc.NewFromList(strings.Split(cfg.NodeDocumentKeys, ","))
		if err != nil {
			log.Fatalf("invalid NODE_DOCUMENT_KEYS: %v", err)
		}
		verifiers = append(verifiers, nodeVerifier)
	}
	attestor := usecase.NewAttestor(cfg.EvidenceMaxAge(), cfg.ClockSkew(), nil, verifiers...)

	var registrations usecase.RegistrationRepository
	if conn != nil {
		registrations = db.NewRegistrationRepository(conn)
	} else {
		registrations = memstore.NewRegistrations()
	}
	catalog := usecase.NewRegistrationCatalog(registrations)
	if _, err := catalog.Reload(ctx); err != nil {
		log.Fatalf("failed to load registrations: %v", err)
	}
	matcher := &usecase.RegistrationMatcher{Source: catalog}

	issuance := &usecase.IssuanceCoordinator{
		Attestor:  attestor,
		Matcher:   matcher,
		Authority: authority,
		Audit:     audit,
	}

	// Federation.
	var peerBundles usecase.BundleRepository
	if conn != nil {
		peerBundles = db.NewPeerBundleRepository(conn)
	}
	federation := usecase.NewFederationManager(
		authority,
		peerhttp.NewClient(cfg.FederationTimeout()),
		peerBundles,
		audit,
		nil,
	)
	federation.PollInterval = cfg.FederationPollInterval()
	federation.PollTimeout = cfg.FederationTimeout()
	if conn != nil {
		if err := federation.Restore(ctx); err != nil {
			log.Fatalf("failed to restore federation state: %v", err)
		}
	}
	go federation.Run(ctx)

	// Policy.
	var decisionCache usecase.DecisionCache
	if redisClient != nil {
		decisionCache, err = cacheredis.New(redisClient)
		if err != nil {
			log.Fatalf("failed to init redis decision cache: %v", err)
		}
	} else {
		decisionCache = cachemem.New()
	}
	var policyRules usecase.PolicyRuleRepository
	if conn != nil {
		policyRules = db.NewPolicyRuleRepository(conn, cfg.TrustDomain)
	} else {
		policyRules = memstore.NewPolicyRules()
	}
	policy := usecase.NewPolicyEngine(
		policyRules,
		decisionCache,
		cfg.DecisionCacheTTL(),
		policyopa.NewEvaluator(),
		federation,
		trustDomain,
		audit,
		nil,
	)
	if err := policy.Reload(ctx); err != nil {
		log.Fatalf("failed to load policy rules: %v", err)
	}

	// Revocation and verification.
	var (
		revocations usecase.RevocationRepository
		epochs      usecase.RevocationEpochRepository
	)
	if conn != nil {
		revocations = db.NewRevocationRepository(conn)
		epochs = db.NewRevocationEpochRepository(conn, cfg.TrustDomain)
	} else {
		revocations = memstore.NewRevocations()
		epochs = memstore.NewEpochs()
	}
	revocation := usecase.NewRevocationService(revocations, epochs, nil)
	revocation.Invalidator = policy
	revocation.Audit = audit

	verifier := &usecase.DocumentVerifier{
		Bundles:     federation,
		Revocations: revocation,
		Mode:        domain.RevocationMode(cfg.RevocationMode),
		ClockSkew:   cfg.ClockSkew(),
	}
	policy.Verifier = verifier

	// Periodic key promotion and rotation.
	go runRotation(ctx, authority, cfg.RotationInterval())

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		if redisClient != nil {
			limiter, err = ratelimit.NewRedisLimiter(redisClient, nil)
			if err != nil {
				log.Fatalf("failed to init redis rate limiter: %v", err)
			}
		} else {
			limiter = ratelimit.NewMemoryLimiter(nil, 0)
		}
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Issuance:      issuance,
		Verifier:      verifier,
		Authority:     authority,
		Federation:    federation,
		Policy:        policy,
		Revocation:    revocation,
		Catalog:       catalog,
		Registrations: registrations,
		AuditEvents:   auditRepo,
		Audit:         audit,
		RateLimiter:   limiter,
	})

	log.Printf("trustplaned serving trust domain %s on %s", cfg.TrustDomain, cfg.HTTPAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// runRotation promotes pending keys once their grace elapses and starts a
// fresh rotation on the configured interval.
func runRotation(ctx context.Context, authority *usecase.KeyAuthority, interval time.Duration) {
	promote := time.NewTicker(time.Minute)
	defer promote.Stop()

	var rotate <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		rotate = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if promoted, err := authority.PromoteIfDue(ctx); err != nil {
				log.Printf("key promotion failed: %v", err)
			} else if promoted {
				log.Printf("promoted pending signing key to active")
			}
		case <-rotate:
			if _, err := authority.Rotate(ctx); err != nil {
				log.Printf("scheduled rotation failed: %v", err)
			} else {
				log.Printf("scheduled key rotation started, bundle sequence %d", authority.Bundle().Sequence)
			}
		}
	}
}
