//go:build integration
// +build integration

package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"trustplane/internal/domain"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, conn)
	if err := conn.AutoMigrate(
		&RegistrationModel{},
		&SigningKeyModel{},
		&RevocationModel{},
		&RevocationEpochModel{},
		&PeerBundleModel{},
		&PolicyRuleModel{},
		&PolicyVersionModel{},
		&AuditEventModel{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func lockTestDB(t *testing.T, conn *gorm.DB) {
	t.Helper()
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	c, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := c.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		_ = c.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = c.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = c.Close()
	})
}

func resetDB(t *testing.T, conn *gorm.DB) {
	t.Helper()
	if err := conn.Exec(`
		TRUNCATE registrations,
			signing_keys,
			revocations,
			revocation_epoch,
			peer_bundles,
			policy_rules,
			policy_version,
			audit_events
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func mustUUID(t *testing.T) string {
	t.Helper()
	id, err := NewUUID()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}

func TestRegistrationRepository_Lifecycle(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewRegistrationRepository(conn)
	id, err := spiffeid.FromString("spiffe://example.org/svc/frontend")
	if err != nil {
		t.Fatalf("spiffe id: %v", err)
	}
	entry := domain.RegistrationEntry{
		ID:       mustUUID(t),
		SPIFFEID: id,
		Selectors: domain.SelectorSet{
			{Type: "node", Key: "join_token", Value: "node-a"},
			{Type: "workload", Key: "uid", Value: "1000"},
		},
		TTL:    10 * time.Minute,
		Scopes: []string{"orders:read"},
	}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	entries, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID != entry.ID || got.SPIFFEID.String() != entry.SPIFFEID.String() || got.TTL != entry.TTL {
		t.Fatalf("entry mismatch: %+v", got)
	}
	if len(got.Selectors) != 2 || got.Selectors[0].Value != "node-a" {
		t.Fatalf("selectors did not round-trip: %+v", got.Selectors)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "orders:read" {
		t.Fatalf("scopes did not round-trip: %+v", got.Scopes)
	}

	if err := repo.Delete(context.Background(), entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(context.Background(), entry.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestRevocationRepository_Boundary(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewRevocationRepository(conn)
	subject := "spiffe://example.org/svc/frontend"
	revokedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Append(context.Background(), domain.Revocation{
		SubjectID: subject,
		RevokedAt: revokedAt,
		Reason:    "key compromise",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	for _, tc := range []struct {
		issuedAt time.Time
		want     bool
	}{
		{revokedAt.Add(-time.Minute), true},
		{revokedAt, true},
		{revokedAt.Add(time.Minute), false},
	} {
		got, err := repo.IsRevoked(context.Background(), subject, tc.issuedAt)
		if err != nil {
			t.Fatalf("is revoked: %v", err)
		}
		if got != tc.want {
			t.Fatalf("issued %s: want %v, got %v", tc.issuedAt, tc.want, got)
		}
	}

	if err := repo.Append(context.Background(), domain.Revocation{
		SubjectID: "spiffe://example.org/svc/other",
		RevokedAt: revokedAt,
	}); err != nil {
		t.Fatalf("append second: %v", err)
	}
	revs, err := repo.List(context.Background(), subject)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(revs) != 1 || revs[0].SubjectID != subject || revs[0].ID == "" {
		t.Fatalf("filtered list mismatch: %+v", revs)
	}
	all, err := repo.List(context.Background(), "")
	if err != nil || len(all) != 2 {
		t.Fatalf("unfiltered list: want 2, got %v %v", all, err)
	}
}

func TestRevocationEpochRepository_SeedAndBump(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewRevocationEpochRepository(conn, "example.org")
	epoch, err := repo.GetEpoch(context.Background())
	if err != nil {
		t.Fatalf("get epoch: %v", err)
	}
	if epoch != 0 {
		t.Fatalf("fresh epoch must be 0, got %d", epoch)
	}
	for want := int64(1); want <= 2; want++ {
		epoch, err = repo.BumpEpoch(context.Background())
		if err != nil {
			t.Fatalf("bump epoch: %v", err)
		}
		if epoch != want {
			t.Fatalf("bump: want %d, got %d", want, epoch)
		}
	}
	if epoch, err = repo.GetEpoch(context.Background()); err != nil || epoch != 2 {
		t.Fatalf("epoch after bumps: want 2, got %d %v", epoch, err)
	}

	// Epochs are per trust domain.
	other := NewRevocationEpochRepository(conn, "partner.example")
	if epoch, err = other.GetEpoch(context.Background()); err != nil || epoch != 0 {
		t.Fatalf("other domain epoch: want 0, got %d %v", epoch, err)
	}
}

func TestPolicyRuleRepository_VersionUpsert(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewPolicyRuleRepository(conn, "example.org")

	// Bumping before any read inserts the seed row at version 1.
	version, err := repo.BumpVersion(context.Background())
	if err != nil {
		t.Fatalf("bump version: %v", err)
	}
	if version != 1 {
		t.Fatalf("first bump must yield 1, got %d", version)
	}
	if version, err = repo.BumpVersion(context.Background()); err != nil || version != 2 {
		t.Fatalf("second bump must yield 2, got %d %v", version, err)
	}
	if version, err = repo.GetVersion(context.Background()); err != nil || version != 2 {
		t.Fatalf("get after bumps: want 2, got %d %v", version, err)
	}

	resetDB(t, conn)
	// Reading first seeds version 1 without bumping.
	if version, err = repo.GetVersion(context.Background()); err != nil || version != 1 {
		t.Fatalf("seeded version must be 1, got %d %v", version, err)
	}
	if version, err = repo.BumpVersion(context.Background()); err != nil || version != 2 {
		t.Fatalf("bump after seed must yield 2, got %d %v", version, err)
	}
}

func TestPolicyRuleRepository_Lifecycle(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewPolicyRuleRepository(conn, "example.org")
	rule := domain.PolicyRule{
		ID:              mustUUID(t),
		Effect:          domain.EffectAllow,
		SubjectPattern:  "spiffe://example.org/svc/*",
		ActionPattern:   "db:*",
		ResourcePattern: "orders/**",
		Condition:       `input.context.env == "prod"`,
	}
	if err := repo.Create(context.Background(), rule); err != nil {
		t.Fatalf("create: %v", err)
	}
	rules, err := repo.List(context.Background())
	if err != nil || len(rules) != 1 {
		t.Fatalf("list: want 1 rule, got %v %v", rules, err)
	}
	if rules[0].Condition != rule.Condition || rules[0].Effect != domain.EffectAllow {
		t.Fatalf("rule mismatch: %+v", rules[0])
	}
	if err := repo.Delete(context.Background(), rule.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(context.Background(), rule.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestPeerBundleRepository_UpsertConflict(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewPeerBundleRepository(conn)
	signed := domain.SignedBundle{
		TrustDomain: "partner.example",
		Payload:     []byte(`{"sequence":1}`),
		SignerKID:   "kid-1",
		Signature:   bytes.Repeat([]byte{0x01}, 64),
	}
	if err := repo.Upsert(context.Background(), "partner.example", 1, signed, domain.PeerPendingBootstrap, "https://partner.example:8443"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same trust domain again takes the conflict path and replaces the row.
	signed.Payload = []byte(`{"sequence":2}`)
	signed.SignerKID = "kid-2"
	if err := repo.Upsert(context.Background(), "partner.example", 2, signed, domain.PeerActive, "https://partner.example:8443"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stored, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 row after upsert, got %d", len(stored))
	}
	got := stored[0]
	if got.Sequence != 2 || got.State != domain.PeerActive || got.Signed.SignerKID != "kid-2" {
		t.Fatalf("conflict update did not replace the row: %+v", got)
	}
	if !bytes.Equal(got.Signed.Payload, []byte(`{"sequence":2}`)) {
		t.Fatalf("payload mismatch: %s", got.Signed.Payload)
	}
}

func TestSigningKeyRepository_StatusTransitions(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewSigningKeyRepository(conn)
	key := domain.SigningKey{
		KID:       "kid-1",
		Purpose:   domain.KeyPurposeIntermediate,
		Alg:       "ed25519",
		PublicKey: bytes.Repeat([]byte{0x01}, 32),
		Status:    domain.KeyStatusActive,
	}
	if err := repo.Create(context.Background(), key); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), "kid-1", domain.KeyStatusRetired); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), "kid-missing", domain.KeyStatusRetired); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown kid: want ErrNotFound, got %v", err)
	}
	keys, err := repo.List(context.Background())
	if err != nil || len(keys) != 1 {
		t.Fatalf("list: want 1 key, got %v %v", keys, err)
	}
	if keys[0].Status != domain.KeyStatusRetired {
		t.Fatalf("status not persisted: %+v", keys[0])
	}
}

func TestAuditEventRepository_AppendList(t *testing.T) {
	conn := setupTestDB(t)
	resetDB(t, conn)

	repo := NewAuditEventRepository(conn)
	event := domain.AuditEvent{
		EventType:   domain.AuditEventIdentityIssued,
		ActorType:   domain.AuditActorWorkload,
		ActorIDHash: "hash-a",
		TargetType:  domain.AuditTargetIdentity,
		TargetID:    "spiffe://example.org/svc/frontend",
		Result:      domain.AuditResultSuccess,
		Reason:      "issued",
		Payload:     map[string]any{"ttl_seconds": float64(600)},
	}
	stored, err := repo.Append(context.Background(), event)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("append must stamp id and timestamp: %+v", stored)
	}

	events, err := repo.List(context.Background(), 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("list: want 1 event, got %v %v", events, err)
	}
	got := events[0]
	if got.EventType != event.EventType || got.TargetID != event.TargetID || got.Reason != event.Reason {
		t.Fatalf("event mismatch: %+v", got)
	}
	if got.Payload["ttl_seconds"] != float64(600) {
		t.Fatalf("payload did not round-trip: %+v", got.Payload)
	}
}
