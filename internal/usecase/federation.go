package usecase

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"time"

	"trustplane/internal/domain"

	"github.com/spiffe/go-spiffe/v2/bundle/spiffebundle"
	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

const peerFetchRetries = 3

// FederationManager exchanges trust bundles with peer trust domains.
// Each peer relationship is an independent, directed edge with its own
// lock and state machine; two domains rotating at once never contend on a
// shared structure. Propagation is pull-based: we poll peers, nothing is
// pushed at us.
type FederationManager struct {
	Local        *KeyAuthority
	Client       PeerClient
	Repo         BundleRepository
	Audit        *AuditEmitter
	Clock        Clock
	PollInterval time.Duration
	PollTimeout  time.Duration

	mu    sync.RWMutex
	peers map[string]*peerEdge
}

type peerEdge struct {
	mu  sync.Mutex
	rel domain.PeerRelationship
}

func NewFederationManager(local *KeyAuthority, client PeerClient, repo BundleRepository, audit *AuditEmitter, clock Clock) *FederationManager {
	return &FederationManager{
		Local:  local,
		Client: client,
		Repo:   repo,
		Audit:  audit,
		Clock:  clock,
		peers:  make(map[string]*peerEdge),
	}
}

// Restore rehydrates peer relationships from the durable store, so held
// bundles survive a restart without re-running bootstrap.
func (m *FederationManager) Restore(ctx context.Context) error {
	if m.Repo == nil {
		return nil
	}
	stored, err := m.Repo.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		td, err := spiffeid.TrustDomainFromString(s.TrustDomain)
		if err != nil {
			log.Printf("federation: skipping stored bundle for invalid trust domain %q: %v", s.TrustDomain, err)
			continue
		}
		bundle, err := parseBundlePayload(td, s.Signed.Payload)
		if err != nil {
			log.Printf("federation: skipping unparseable stored bundle for %s: %v", s.TrustDomain, err)
			continue
		}
		edge := &peerEdge{rel: domain.PeerRelationship{
			TrustDomain: s.TrustDomain,
			Endpoint:    s.Endpoint,
			State:       s.State,
			Bundle:      bundle,
			Sequence:    s.Sequence,
		}}
		m.mu.Lock()
		m.peers[s.TrustDomain] = edge
		m.mu.Unlock()
	}
	return nil
}

// ConfigurePeer registers a peer trust domain. The relationship starts in
// PendingBootstrap: no bundle is trusted until an operator explicitly
// confirms the first import.
func (m *FederationManager) ConfigurePeer(trustDomain, endpoint string) error {
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return fmt.Errorf("invalid trust domain: %w", err)
	}
	if m.Local != nil && td == m.Local.TrustDomain {
		return fmt.Errorf("cannot federate with own trust domain %s", td)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if edge, ok := m.peers[td.Name()]; ok {
		edge.mu.Lock()
		edge.rel.Endpoint = endpoint
		edge.mu.Unlock()
		return nil
	}
	m.peers[td.Name()] = &peerEdge{rel: domain.PeerRelationship{
		TrustDomain: td.Name(),
		Endpoint:    endpoint,
		State:       domain.PeerPendingBootstrap,
	}}
	return nil
}

// Bootstrap performs the one trust-on-first-use moment in the system: the
// explicitly authorized first import for a brand-new peer. It must be
// operator-confirmed and is always audited; it is never performed silently
// by the poller.
func (m *FederationManager) Bootstrap(ctx context.Context, trustDomain string, signed domain.SignedBundle, actor, reason string) error {
	edge, err := m.edge(trustDomain)
	if err != nil {
		return err
	}
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return fmt.Errorf("invalid trust domain: %w", err)
	}

	edge.mu.Lock()
	defer edge.mu.Unlock()
	if edge.rel.State != domain.PeerPendingBootstrap {
		return fmt.Errorf("%w: peer %s is %s, bootstrap only applies to pending peers", domain.ErrBundleRejected, trustDomain, edge.rel.State)
	}
	bundle, err := parseBundlePayload(td, signed.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBundleRejected, err)
	}
	// The first bundle can only vouch for itself: require the signature to
	// verify against a key contained in the imported material.
	if err := verifyBundleSignature(signed, bundle); err != nil {
		m.Audit.EmitBundleRejected(ctx, trustDomain, err)
		return err
	}

	now := m.now()
	edge.rel.Bundle = bundle
	edge.rel.Sequence = bundle.Sequence
	edge.rel.State = domain.PeerActive
	edge.rel.LastImportAt = now
	edge.rel.LastError = ""

	if err := m.persist(ctx, edge.rel, signed); err != nil {
		return err
	}
	log.Printf("federation: bootstrap import for %s at sequence %d confirmed by operator", trustDomain, bundle.Sequence)
	m.Audit.EmitPeerBootstrapped(ctx, actor, reason, trustDomain, bundle.Sequence)
	return nil
}

// Import validates and accepts a new bundle version for an already
// bootstrapped peer. Acceptance requires a sequence number strictly greater
// than the held one and a signature by a key present in the previously
// accepted bundle. Out-of-order and duplicate imports are rejected, never
// merged.
func (m *FederationManager) Import(ctx context.Context, trustDomain string, signed domain.SignedBundle) error {
	edge, err := m.edge(trustDomain)
	if err != nil {
		return err
	}
	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return fmt.Errorf("invalid trust domain: %w", err)
	}

	edge.mu.Lock()
	defer edge.mu.Unlock()
	if edge.rel.Bundle == nil {
		return fmt.Errorf("%w: peer %s", domain.ErrBootstrapRequired, trustDomain)
	}
	bundle, err := parseBundlePayload(td, signed.Payload)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrBundleRejected, err)
		m.Audit.EmitBundleRejected(ctx, trustDomain, err)
		return err
	}
	if bundle.Sequence <= edge.rel.Sequence {
		err = fmt.Errorf("%w: got %d, have %d", domain.ErrBundleSequence, bundle.Sequence, edge.rel.Sequence)
		m.Audit.EmitBundleRejected(ctx, trustDomain, err)
		return err
	}
	if err := verifyBundleSignature(signed, edge.rel.Bundle); err != nil {
		m.Audit.EmitBundleRejected(ctx, trustDomain, err)
		return err
	}

	now := m.now()
	edge.rel.Bundle = bundle
	edge.rel.Sequence = bundle.Sequence
	edge.rel.State = domain.PeerActive
	edge.rel.LastImportAt = now
	edge.rel.LastError = ""

	if err := m.persist(ctx, edge.rel, signed); err != nil {
		return err
	}
	m.Audit.EmitBundleImported(ctx, trustDomain, bundle.Sequence)
	return nil
}

// Export returns the local domain's current signed bundle.
func (m *FederationManager) Export(ctx context.Context) (domain.SignedBundle, error) {
	if m.Local == nil {
		return domain.SignedBundle{}, fmt.Errorf("no local authority configured")
	}
	return m.Local.SignedBundle(ctx)
}

// Bundles returns the currently held bundle per peer trust domain.
func (m *FederationManager) Bundles() map[string]domain.TrustBundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.TrustBundle, len(m.peers))
	for name, edge := range m.peers {
		edge.mu.Lock()
		if edge.rel.Bundle != nil {
			out[name] = *edge.rel.Bundle
		}
		edge.mu.Unlock()
	}
	return out
}

// Peers returns a snapshot of every relationship.
func (m *FederationManager) Peers() []domain.PeerRelationship {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerRelationship, 0, len(m.peers))
	for _, edge := range m.peers {
		edge.mu.Lock()
		out = append(out, edge.rel)
		edge.mu.Unlock()
	}
	return out
}

// PeerActive reports whether a currently-Active relationship exists for the
// trust domain. Degraded and pending peers are not active: cross-domain
// evaluation fails closed for them.
func (m *FederationManager) PeerActive(trustDomain string) bool {
	edge, err := m.edge(trustDomain)
	if err != nil {
		return false
	}
	edge.mu.Lock()
	defer edge.mu.Unlock()
	return edge.rel.State == domain.PeerActive
}

// GetX509BundleForTrustDomain implements x509bundle.Source over the local
// bundle plus every held peer bundle. A Degraded peer's bundle still
// serves: degradation stops new imports, it does not revoke held trust.
func (m *FederationManager) GetX509BundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, error) {
	if m.Local != nil && td == m.Local.TrustDomain {
		return m.Local.Bundle().X509Bundle(), nil
	}
	edge, err := m.edge(td.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerUnknown, td.Name())
	}
	edge.mu.Lock()
	defer edge.mu.Unlock()
	if edge.rel.Bundle == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerNotActive, td.Name())
	}
	return edge.rel.Bundle.X509Bundle(), nil
}

// PollPeer fetches and, when newer, imports one peer's bundle. A fetch
// failure marks the relationship Degraded without touching the held
// bundle; a same-sequence response is a healthy no-op that clears
// degradation.
func (m *FederationManager) PollPeer(ctx context.Context, trustDomain string) error {
	edge, err := m.edge(trustDomain)
	if err != nil {
		return err
	}
	edge.mu.Lock()
	endpoint := edge.rel.Endpoint
	state := edge.rel.State
	held := edge.rel.Sequence
	edge.mu.Unlock()

	if state == domain.PeerPendingBootstrap || endpoint == "" {
		return nil
	}

	pollCtx := ctx
	if m.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.PollTimeout)
		defer cancel()
	}
	signed, err := m.fetchWithRetry(pollCtx, endpoint)
	now := m.now()
	if err != nil {
		edge.mu.Lock()
		edge.rel.State = domain.PeerDegraded
		edge.rel.LastPollAt = now
		edge.rel.LastError = err.Error()
		edge.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", domain.ErrPeerUnreachable, trustDomain, err)
	}

	td, tdErr := spiffeid.TrustDomainFromString(trustDomain)
	if tdErr != nil {
		return tdErr
	}
	fetched, parseErr := parseBundlePayload(td, signed.Payload)
	if parseErr != nil {
		edge.mu.Lock()
		edge.rel.LastPollAt = now
		edge.rel.LastError = parseErr.Error()
		edge.mu.Unlock()
		m.Audit.EmitBundleRejected(ctx, trustDomain, parseErr)
		return fmt.Errorf("%w: %v", domain.ErrBundleRejected, parseErr)
	}
	if fetched.Sequence == held {
		edge.mu.Lock()
		edge.rel.State = domain.PeerActive
		edge.rel.LastPollAt = now
		edge.rel.LastError = ""
		edge.mu.Unlock()
		return nil
	}
	if err := m.Import(ctx, trustDomain, signed); err != nil {
		edge.mu.Lock()
		edge.rel.LastPollAt = now
		edge.mu.Unlock()
		return err
	}
	edge.mu.Lock()
	edge.rel.LastPollAt = now
	edge.mu.Unlock()
	return nil
}

// Run polls every configured peer on the interval, each peer on its own
// goroutine so one slow peer cannot stall the others.
func (m *FederationManager) Run(ctx context.Context) {
	interval := m.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var wg sync.WaitGroup
			for _, rel := range m.Peers() {
				wg.Add(1)
				go func(trustDomain string) {
					defer wg.Done()
					if err := m.PollPeer(ctx, trustDomain); err != nil {
						log.Printf("federation: poll %s: %v", trustDomain, err)
					}
				}(rel.TrustDomain)
			}
			wg.Wait()
		}
	}
}

// RefreshIfStale polls a peer on demand when its last poll is older than
// the poll interval, so cross-domain verification sees reasonably fresh
// bundles without waiting for the interval poller. Local and unknown
// trust domains are no-ops, and a failed poll leaves the held bundle
// serving as usual.
func (m *FederationManager) RefreshIfStale(ctx context.Context, trustDomain string) {
	if m.Client == nil {
		return
	}
	if m.Local != nil && trustDomain == m.Local.TrustDomain.Name() {
		return
	}
	edge, err := m.edge(trustDomain)
	if err != nil {
		return
	}
	interval := m.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	edge.mu.Lock()
	stale := edge.rel.LastPollAt.IsZero() || m.now().Sub(edge.rel.LastPollAt) > interval
	state := edge.rel.State
	edge.mu.Unlock()
	if !stale || state == domain.PeerPendingBootstrap {
		return
	}
	if err := m.PollPeer(ctx, trustDomain); err != nil {
		log.Printf("federation: on-demand poll %s: %v", trustDomain, err)
	}
}

// fetchWithRetry retries transient fetch failures a few times before
// giving the peer up as unreachable. Network flakes are infrastructure
// noise, not rejections, so retrying here is safe.
func (m *FederationManager) fetchWithRetry(ctx context.Context, endpoint string) (domain.SignedBundle, error) {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < peerFetchRetries; attempt++ {
		signed, err := m.Client.FetchBundle(ctx, endpoint)
		if err == nil {
			return signed, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return domain.SignedBundle{}, lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.SignedBundle{}, lastErr
}

func (m *FederationManager) edge(trustDomain string) (*peerEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edge, ok := m.peers[trustDomain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerUnknown, trustDomain)
	}
	return edge, nil
}

func (m *FederationManager) persist(ctx context.Context, rel domain.PeerRelationship, signed domain.SignedBundle) error {
	if m.Repo == nil {
		return nil
	}
	return m.Repo.Upsert(ctx, rel.TrustDomain, rel.Sequence, signed, rel.State, rel.Endpoint)
}

func (m *FederationManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

func parseBundlePayload(td spiffeid.TrustDomain, payload []byte) (*domain.TrustBundle, error) {
	doc, err := spiffebundle.Parse(td, payload)
	if err != nil {
		return nil, err
	}
	sequence, ok := doc.SequenceNumber()
	if !ok {
		return nil, fmt.Errorf("bundle for %s has no sequence number", td.Name())
	}
	bundle := &domain.TrustBundle{
		TrustDomain: td,
		Sequence:    sequence,
		Authorities: doc.X509Authorities(),
	}
	if hint, ok := doc.RefreshHint(); ok {
		bundle.RefreshHint = hint
	}
	return bundle, nil
}

// verifyBundleSignature checks the envelope signature against the key named
// by SignerKID, which must belong to an authority of trusted: for normal
// imports that is the previously accepted bundle, for bootstrap the
// imported bundle itself.
func verifyBundleSignature(signed domain.SignedBundle, trusted *domain.TrustBundle) error {
	if signed.SignerKID == "" || len(signed.Signature) == 0 {
		return fmt.Errorf("%w: bundle is unsigned", domain.ErrBundleRejected)
	}
	for _, authority := range trusted.Authorities {
		if domain.AuthorityKID(authority) != signed.SignerKID {
			continue
		}
		pub, ok := authority.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: signer key %s is not ed25519", domain.ErrBundleRejected, signed.SignerKID)
		}
		if !ed25519.Verify(pub, signed.Payload, signed.Signature) {
			return fmt.Errorf("%w: signature verification failed", domain.ErrBundleRejected)
		}
		return nil
	}
	return fmt.Errorf("%w: signer %s not present in trusted bundle", domain.ErrBundleRejected, signed.SignerKID)
}
