package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/infra/cachemem"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

type fakeConditions struct {
	result bool
	err    error
	calls  int
}

func (f *fakeConditions) Evaluate(_ context.Context, _ string, _ map[string]any) (bool, error) {
	f.calls++
	return f.result, f.err
}

type fakeFederation struct {
	active map[string]bool
}

func (f *fakeFederation) PeerActive(td string) bool {
	return f.active[td]
}

type fakeChainVerifier struct {
	id    string
	err   error
	calls int
}

func (f *fakeChainVerifier) Verify(_ context.Context, _ [][]byte, _ bool) (VerifyResult, error) {
	f.calls++
	if f.err != nil {
		return VerifyResult{}, f.err
	}
	return VerifyResult{ID: f.id}, nil
}

func testPolicyEngine(t *testing.T, rules *memPolicyRules, cache DecisionCache, conditions ConditionEvaluator, federation FederationChecker) *PolicyEngine {
	t.Helper()
	td, err := spiffeid.TrustDomainFromString("example.org")
	if err != nil {
		t.Fatalf("trust domain: %v", err)
	}
	audit := NewAuditEmitter(&memAuditRepo{}, fixedClock(attestNow), 64)
	return NewPolicyEngine(rules, cache, time.Minute, conditions, federation, td, audit, fixedClock(attestNow))
}

func allowRule(id, subject, action, resource string) domain.PolicyRule {
	return domain.PolicyRule{ID: id, Effect: domain.EffectAllow, SubjectPattern: subject, ActionPattern: action, ResourcePattern: resource}
}

func denyRule(id, subject, action, resource string) domain.PolicyRule {
	return domain.PolicyRule{ID: id, Effect: domain.EffectDeny, SubjectPattern: subject, ActionPattern: action, ResourcePattern: resource}
}

func frontendRequest() DecisionRequest {
	return DecisionRequest{
		SubjectID: "spiffe://example.org/svc/frontend",
		Action:    "db:read",
		Resource:  "orders/eu/42",
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	e := testPolicyEngine(t, &memPolicyRules{}, nil, &fakeConditions{}, nil)
	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow || d.Reason != domain.ReasonNoMatchingPolicy {
		t.Fatalf("empty rule set must default-deny, got %+v", d)
	}
}

func TestEvaluateAllowRuleMatches(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**"),
	}}
	e := testPolicyEngine(t, rules, nil, &fakeConditions{}, nil)

	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allow || d.RuleID != "r1" {
		t.Fatalf("want allow by r1, got %+v", d)
	}
}

func TestEvaluateDenyWins(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**"),
		denyRule("r2", "spiffe://example.org/svc/frontend", "db:read", "orders/**"),
	}}
	e := testPolicyEngine(t, rules, nil, &fakeConditions{}, nil)

	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow || d.Reason != domain.ReasonExplicitDeny || d.RuleID != "r2" {
		t.Fatalf("deny must win over allow, got %+v", d)
	}
}

func TestEvaluateGlobSegmentsDoNotCrossSeparators(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://example.org/svc/*", "db:read", "orders/*"),
	}}
	e := testPolicyEngine(t, rules, nil, &fakeConditions{}, nil)

	// A single-segment wildcard must not span "eu/42".
	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow {
		t.Fatalf("orders/* must not match orders/eu/42, got %+v", d)
	}

	req := frontendRequest()
	req.Resource = "orders/42"
	d, err = e.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("orders/* should match orders/42, got %+v", d)
	}
}

func TestEvaluateConditionFailureFailsClosed(t *testing.T) {
	conditionErr := errors.New("evaluation blew up")

	t.Run("on deny rule", func(t *testing.T) {
		rules := &memPolicyRules{rules: []domain.PolicyRule{
			func() domain.PolicyRule {
				r := denyRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**")
				r.Condition = `input.context.env == "prod"`
				return r
			}(),
		}}
		e := testPolicyEngine(t, rules, nil, &fakeConditions{err: conditionErr}, nil)
		d, err := e.Evaluate(context.Background(), frontendRequest())
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonConditionEvalFailed {
			t.Fatalf("unevaluable deny condition must deny, got %+v", d)
		}
	})

	t.Run("on allow rule", func(t *testing.T) {
		rules := &memPolicyRules{rules: []domain.PolicyRule{
			func() domain.PolicyRule {
				r := allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**")
				r.Condition = `input.context.env == "prod"`
				return r
			}(),
		}}
		e := testPolicyEngine(t, rules, nil, &fakeConditions{err: conditionErr}, nil)
		d, err := e.Evaluate(context.Background(), frontendRequest())
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonNoMatchingPolicy {
			t.Fatalf("unevaluable allow condition must not grant, got %+v", d)
		}
	})
}

func TestEvaluateCrossDomainRequiresActiveFederation(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://partner.example/**", "db:read", "orders/**"),
	}}
	federation := &fakeFederation{active: map[string]bool{}}
	e := testPolicyEngine(t, rules, nil, &fakeConditions{}, federation)
	e.Verifier = &fakeChainVerifier{id: "spiffe://partner.example/svc/api"}

	req := frontendRequest()
	req.SubjectID = "spiffe://partner.example/svc/api"
	req.ChainDER = [][]byte{{0x30}}

	d, err := e.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow || d.Reason != domain.ReasonNoActiveFederation {
		t.Fatalf("cross-domain without active federation must deny, got %+v", d)
	}

	federation.active["partner.example"] = true
	d, err = e.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allow {
		t.Fatalf("active federation with a valid chain should let the rule apply, got %+v", d)
	}
}

func TestEvaluateCrossDomainRequiresValidChain(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://partner.example/**", "db:read", "orders/**"),
	}}
	federation := &fakeFederation{active: map[string]bool{"partner.example": true}}

	base := frontendRequest()
	base.SubjectID = "spiffe://partner.example/svc/api"

	t.Run("missing chain", func(t *testing.T) {
		e := testPolicyEngine(t, rules, nil, &fakeConditions{}, federation)
		e.Verifier = &fakeChainVerifier{id: base.SubjectID}
		d, err := e.Evaluate(context.Background(), base)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonChainInvalid {
			t.Fatalf("asserted cross-domain subject without a chain must deny, got %+v", d)
		}
	})

	t.Run("chain does not verify", func(t *testing.T) {
		e := testPolicyEngine(t, rules, nil, &fakeConditions{}, federation)
		e.Verifier = &fakeChainVerifier{err: errors.New("unknown authority")}
		req := base
		req.ChainDER = [][]byte{{0x30}}
		d, err := e.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonChainInvalid {
			t.Fatalf("unverifiable chain must deny, got %+v", d)
		}
	})

	t.Run("chain attests a different subject", func(t *testing.T) {
		e := testPolicyEngine(t, rules, nil, &fakeConditions{}, federation)
		e.Verifier = &fakeChainVerifier{id: "spiffe://partner.example/svc/other"}
		req := base
		req.ChainDER = [][]byte{{0x30}}
		d, err := e.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonChainInvalid {
			t.Fatalf("chain for another subject must deny, got %+v", d)
		}
	})

	t.Run("no verifier configured", func(t *testing.T) {
		e := testPolicyEngine(t, rules, nil, &fakeConditions{}, federation)
		req := base
		req.ChainDER = [][]byte{{0x30}}
		d, err := e.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Allow || d.Reason != domain.ReasonChainInvalid {
			t.Fatalf("cross-domain with no verifier wired must deny, got %+v", d)
		}
	})
}

func TestCachedCrossDomainAllowNotServedWithoutChain(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://partner.example/**", "db:read", "orders/**"),
	}}
	federation := &fakeFederation{active: map[string]bool{"partner.example": true}}
	e := testPolicyEngine(t, rules, cachemem.New(), &fakeConditions{}, federation)
	e.Verifier = &fakeChainVerifier{id: "spiffe://partner.example/svc/api"}

	req := frontendRequest()
	req.SubjectID = "spiffe://partner.example/svc/api"
	req.ChainDER = [][]byte{{0x30}}
	if d, err := e.Evaluate(context.Background(), req); err != nil || !d.Allow {
		t.Fatalf("prime the cache with an allow: %+v %v", d, err)
	}

	// Same subject, no chain: the gate runs before the cache every time.
	req.ChainDER = nil
	d, err := e.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow || d.Reason != domain.ReasonChainInvalid {
		t.Fatalf("cached allow must not bypass the chain check, got %+v", d)
	}
}

func TestRuleWriteInvalidatesCachedDecisions(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**"),
	}}
	cache := cachemem.New()
	e := testPolicyEngine(t, rules, cache, &fakeConditions{}, nil)

	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil || !d.Allow {
		t.Fatalf("prime the cache with an allow: %+v %v", d, err)
	}
	// Cached now; repeated evaluation serves the same version.
	d, err = e.Evaluate(context.Background(), frontendRequest())
	if err != nil || !d.Allow {
		t.Fatalf("cached evaluate: %+v %v", d, err)
	}

	if err := e.AddRule(context.Background(), denyRule("r2", "**", "db:read", "orders/**"), "ops", "block read access"); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	d, err = e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate after write: %v", err)
	}
	if d.Allow {
		t.Fatalf("new deny must take effect immediately, got %+v", d)
	}
	if d.PolicyVersion != 1 {
		t.Fatalf("decision should carry the bumped version, got %d", d.PolicyVersion)
	}
}

func TestContextRequestsBypassCache(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		func() domain.PolicyRule {
			r := allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**")
			r.Condition = `input.context.env == "prod"`
			return r
		}(),
	}}
	conditions := &fakeConditions{result: true}
	e := testPolicyEngine(t, rules, cachemem.New(), conditions, nil)

	req := frontendRequest()
	req.Context = map[string]string{"env": "prod"}

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(context.Background(), req); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if conditions.calls != 3 {
		t.Fatalf("contextual requests must re-evaluate every time, got %d condition calls", conditions.calls)
	}
}

func TestRemoveRuleRestoresDefaultDeny(t *testing.T) {
	rules := &memPolicyRules{rules: []domain.PolicyRule{
		allowRule("r1", "spiffe://example.org/svc/*", "db:*", "orders/**"),
	}}
	e := testPolicyEngine(t, rules, cachemem.New(), &fakeConditions{}, nil)

	if d, err := e.Evaluate(context.Background(), frontendRequest()); err != nil || !d.Allow {
		t.Fatalf("want allow before removal: %+v %v", d, err)
	}
	if err := e.RemoveRule(context.Background(), "r1", "ops", "retire rule"); err != nil {
		t.Fatalf("remove rule: %v", err)
	}
	d, err := e.Evaluate(context.Background(), frontendRequest())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allow || d.Reason != domain.ReasonNoMatchingPolicy {
		t.Fatalf("removal must restore default deny, got %+v", d)
	}
}

func TestAddRuleRejectsBadPattern(t *testing.T) {
	e := testPolicyEngine(t, &memPolicyRules{}, nil, &fakeConditions{}, nil)
	bad := allowRule("r1", "spiffe://example.org/[", "db:*", "orders/**")
	if err := e.AddRule(context.Background(), bad, "ops", "bad pattern"); err == nil {
		t.Fatalf("malformed pattern must be rejected at write time")
	}
}
