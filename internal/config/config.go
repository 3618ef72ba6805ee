package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	TrustDomain string

	MaxTTLMinutes         int
	ClockSkewSeconds      int
	EvidenceMaxAgeSeconds int
	RotationGraceSeconds  int
	RotationIntervalDays  int
	SigningTimeoutSeconds int

	RevocationMode string

	FederationPollSeconds   int
	FederationTimeoutSecs   int
	DecisionCacheTTLSeconds int

	AdminAPIKey string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuditQueueSize int

	JoinTokens string

	NodeDocumentKeys string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8443"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		TrustDomain:             envDefault("TRUST_DOMAIN", "example.org"),
		MaxTTLMinutes:           envIntDefault("MAX_TTL_MINUTES", 60),
		ClockSkewSeconds:        envIntDefault("CLOCK_SKEW_SECONDS", 30),
		EvidenceMaxAgeSeconds:   envIntDefault("EVIDENCE_MAX_AGE_SECONDS", 300),
		RotationGraceSeconds:    envIntDefault("ROTATION_GRACE_SECONDS", 600),
		RotationIntervalDays:    envIntDefault("ROTATION_INTERVAL_DAYS", 30),
		SigningTimeoutSeconds:   envIntDefault("SIGNING_TIMEOUT_SECONDS", 5),
		RevocationMode:          envDefault("REVOCATION_MODE", "always"),
		FederationPollSeconds:   envIntDefault("FEDERATION_POLL_SECONDS", 300),
		FederationTimeoutSecs:   envIntDefault("FEDERATION_TIMEOUT_SECONDS", 10),
		DecisionCacheTTLSeconds: envIntDefault("DECISION_CACHE_TTL_SECONDS", 30),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
		AuditQueueSize:          envIntDefault("AUDIT_QUEUE_SIZE", 1024),
		JoinTokens:              os.Getenv("JOIN_TOKENS"),
		NodeDocumentKeys:        os.Getenv("NODE_DOCUMENT_KEYS"),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLMinutes) * time.Minute
}

func (c Config) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

func (c Config) EvidenceMaxAge() time.Duration {
	return time.Duration(c.EvidenceMaxAgeSeconds) * time.Second
}

func (c Config) RotationGrace() time.Duration {
	return time.Duration(c.RotationGraceSeconds) * time.Second
}

func (c Config) RotationInterval() time.Duration {
	if c.RotationIntervalDays <= 0 {
		return 0
	}
	return time.Duration(c.RotationIntervalDays) * 24 * time.Hour
}

func (c Config) SigningTimeout() time.Duration {
	return time.Duration(c.SigningTimeoutSeconds) * time.Second
}

func (c Config) FederationPollInterval() time.Duration {
	return time.Duration(c.FederationPollSeconds) * time.Second
}

func (c Config) FederationTimeout() time.Duration {
	return time.Duration(c.FederationTimeoutSecs) * time.Second
}

func (c Config) DecisionCacheTTL() time.Duration {
	return time.Duration(c.DecisionCacheTTLSeconds) * time.Second
}
