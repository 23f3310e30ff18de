package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/agentwarden/agentcore/internal/budget"
	"github.com/agentwarden/agentcore/internal/capability"
	"github.com/agentwarden/agentcore/internal/identity"
	"github.com/agentwarden/agentcore/internal/policy"
)

type alwaysOn struct{}

func (alwaysOn) ShouldContinue() bool { return true }

func newTestContext(t *testing.T, caps capability.Capabilities) *RuntimeContext {
	t.Helper()
	matchers, err := capability.CompileMatchers(caps)
	if err != nil {
		t.Fatal(err)
	}
	tracker := budget.NewTracker(budget.Limits{}, time.Now())
	engine := policy.New(policy.Config{}, caps, matchers, tracker, alwaysOn{}, nil)

	builder := identity.NewBuilder(nil)
	id, err := builder.Build(identity.BuildOptions{
		AssetID: "asset-1", AssetName: "test-agent", AssetVersion: "1.0",
		RiskLevel: identity.RiskMinimal, Mode: identity.ModeNormal,
		Capabilities: caps,
		GoldenThread: identity.GoldenThread{Kind: identity.ThreadLinked, System: "jira", Ref: "PROJ-1"},
	}, time.Now())
	if err != nil {
		t.Fatalf("unexpected identity build error: %v", err)
	}

	return NewRuntimeContext(id, engine, alwaysOn{})
}

func TestRuntimeContext_CheckToolDelegatesToEngine(t *testing.T) {
	rc := newTestContext(t, capability.Capabilities{AllowedTools: []string{"search_*"}})
	d := rc.CheckTool("search_web")
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	d = rc.CheckTool("delete_db")
	if d.Allowed {
		t.Fatalf("expected deny, got %+v", d)
	}
}

func TestGuard_ThrowOnDenyReturnsDeniedError(t *testing.T) {
	rc := newTestContext(t, capability.Capabilities{DeniedTools: []string{"rm_*"}})
	g := NewGuard(rc, true)

	_, err := g.Check("search_web", "")
	if err != nil {
		t.Fatalf("expected no error for allowed action, got %v", err)
	}

	_, err = g.Check("rm_file", "")
	if err == nil {
		t.Fatal("expected DeniedError for denied action")
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %T", err)
	}
	if denied.Decision.DeniedBy != policy.DeniedByCapability {
		t.Fatalf("expected capability denial in error, got %+v", denied.Decision)
	}
}

func TestGuard_NoThrowReturnsDecisionOnly(t *testing.T) {
	rc := newTestContext(t, capability.Capabilities{DeniedTools: []string{"rm_*"}})
	g := NewGuard(rc, false)

	d, err := g.Check("rm_file", "")
	if err != nil {
		t.Fatalf("expected no error with throwOnDeny=false, got %v", err)
	}
	if d.Allowed {
		t.Fatal("expected decision to reflect the denial even without throwing")
	}
}
