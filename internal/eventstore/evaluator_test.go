package eventstore

import (
	"testing"
	"time"

	"github.com/agentwarden/agentcore/internal/identity"
)

type fixedBundleStore struct{ bundle *Bundle }

func (f fixedBundleStore) GetActiveBundle(orgID string) (*Bundle, error) { return f.bundle, nil }

func TestEvaluator_NoBundleReturnsNil(t *testing.T) {
	e := NewEvaluator(fixedBundleStore{bundle: nil})
	evt := sampleEvent("evt-1", time.Now())
	result, err := e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatalf("expected nil result with no active bundle, got %+v", result)
	}
}

func TestEvaluator_BlockingViolationFailsUnlessWaived(t *testing.T) {
	bundle := &Bundle{
		ID: "b1", OrgID: "org-1",
		Rules: []Rule{{ID: "r1", Name: "require-sig", Severity: "blocking", Check: "requires_signature"}},
	}
	e := NewEvaluator(fixedBundleStore{bundle: bundle})

	evt := sampleEvent("evt-1", time.Now())
	result, err := e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatal("expected unsigned event to fail a blocking require-signature rule")
	}

	bundle.Waivers = []Waiver{{RuleID: "r1", ExpiresAt: time.Now().Add(time.Hour)}}
	result, err = e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Fatal("expected an active waiver to neutralise the blocking violation")
	}
	if !result.Violations[0].Waived {
		t.Fatal("expected the violation to be marked waived")
	}
}

func TestEvaluator_ExpiredWaiverDoesNotApply(t *testing.T) {
	bundle := &Bundle{
		ID: "b1", OrgID: "org-1",
		Rules:   []Rule{{ID: "r1", Name: "require-sig", Severity: "blocking", Check: "requires_signature"}},
		Waivers: []Waiver{{RuleID: "r1", ExpiresAt: time.Now().Add(-time.Hour)}},
	}
	e := NewEvaluator(fixedBundleStore{bundle: bundle})

	evt := sampleEvent("evt-1", time.Now())
	result, err := e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatal("expected expired waiver to leave the violation blocking")
	}
}

func TestEvaluator_ConformanceGapsByTarget(t *testing.T) {
	bundle := &Bundle{ID: "b1", OrgID: "org-1", ConformanceTarget: ConformanceGold}
	e := NewEvaluator(fixedBundleStore{bundle: bundle})

	evt := sampleEvent("evt-1", time.Now())
	result, err := e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ConformanceGaps) != 2 {
		t.Fatalf("expected GOLD to flag both missing signature and previousHash, got %+v", result.ConformanceGaps)
	}
}

func TestEvaluator_SuggestionsForOrphanAndUnsignedHighCriticality(t *testing.T) {
	bundle := &Bundle{ID: "b1", OrgID: "org-1"}
	e := NewEvaluator(fixedBundleStore{bundle: bundle})

	evt := sampleEvent("evt-1", time.Now())
	evt.Criticality = CriticalityHigh
	evt.GoldenThread = identity.GoldenThread{Kind: identity.ThreadOrphan, Reason: "pending review"}

	result, err := e.Evaluate("org-1", evt, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	wantAll := map[string]bool{SuggestLinkThread: false, SuggestCorrelationID: false, SuggestSignHighCrit: false}
	for _, s := range result.Suggestions {
		wantAll[s] = true
	}
	for k, found := range wantAll {
		if !found {
			t.Fatalf("expected suggestion %q, got %+v", k, result.Suggestions)
		}
	}
}

func TestEvaluator_OrphanDeadlineWarnings(t *testing.T) {
	bundle := &Bundle{ID: "b1", OrgID: "org-1"}
	e := NewEvaluator(fixedBundleStore{bundle: bundle})
	now := time.Now()

	overdue := sampleEvent("evt-overdue", now)
	deadline := now.Add(-time.Hour)
	overdue.GoldenThread = identity.GoldenThread{Kind: identity.ThreadOrphan, RemediationDeadline: &deadline}
	result, err := e.Evaluate("org-1", overdue, now)
	if err != nil {
		t.Fatal(err)
	}
	if !containsString(result.Warnings, "orphan remediation deadline overdue") {
		t.Fatalf("expected overdue warning, got %+v", result.Warnings)
	}

	approaching := sampleEvent("evt-approaching", now)
	soon := now.Add(time.Hour)
	approaching.GoldenThread = identity.GoldenThread{Kind: identity.ThreadOrphan, RemediationDeadline: &soon}
	result, err = e.Evaluate("org-1", approaching, now)
	if err != nil {
		t.Fatal(err)
	}
	if !containsString(result.Warnings, "orphan remediation deadline approaching") {
		t.Fatalf("expected approaching warning, got %+v", result.Warnings)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestIsEvaluatedType(t *testing.T) {
	cases := map[string]bool{
		"asset.registered":      true,
		"scan.completed":        true,
		"classification.changed": true,
		"killswitch.applied":    false,
	}
	for eventType, want := range cases {
		if got := IsEvaluatedType(eventType); got != want {
			t.Errorf("IsEvaluatedType(%q) = %v, want %v", eventType, got, want)
		}
	}
}
