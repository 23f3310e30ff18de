// Package guard implements the Runtime Context and scoped guard: thin glue
// tying one Runtime Identity to one Policy Engine and one Kill Switch
// (spec.md §4.11).
package guard

import (
	"fmt"
	"time"

	"github.com/agentwarden/agentcore/internal/identity"
	"github.com/agentwarden/agentcore/internal/policy"
)

// DeniedError is raised by a scoped Guard when throwOnDeny is true and an
// action is denied; it carries the full Decision for inspection.
type DeniedError struct {
	Decision policy.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("action denied by %s: %s", e.Decision.DeniedBy, e.Decision.Reason)
}

// RuntimeContext ties one Identity to the Policy Engine and Kill Switch
// that govern it.
type RuntimeContext struct {
	Identity identity.Identity
	Engine   *policy.Engine
	Kill     interface{ ShouldContinue() bool }
}

// NewRuntimeContext constructs a RuntimeContext.
func NewRuntimeContext(id identity.Identity, engine *policy.Engine, kill interface{ ShouldContinue() bool }) *RuntimeContext {
	return &RuntimeContext{Identity: id, Engine: engine, Kill: kill}
}

// CheckAction evaluates one action against resource, delegating entirely
// to the Policy Engine.
func (rc *RuntimeContext) CheckAction(action, resource string) policy.Decision {
	return rc.Engine.Check(policy.Request{Action: action, Resource: resource}, time.Now())
}

// CheckTool is CheckAction with no resource — a convenience for the common
// tool-only check.
func (rc *RuntimeContext) CheckTool(tool string) policy.Decision {
	return rc.CheckAction(tool, "")
}

// CheckDomain checks an action whose only constraint is the target domain.
func (rc *RuntimeContext) CheckDomain(action, domain string) policy.Decision {
	return rc.CheckAction(action, domain)
}

// Guard is a scoped gate over a RuntimeContext: callers wrap a block of
// work behind it, and every action it gates raises a DeniedError (or
// returns the engine's Decision, with Allowed=false) on denial, per
// throwOnDeny.
type Guard struct {
	rc          *RuntimeContext
	throwOnDeny bool
}

// NewGuard constructs a Guard over rc. When throwOnDeny is true, Check
// returns a non-nil error on denial; otherwise the caller must inspect the
// returned Decision's Allowed field.
func NewGuard(rc *RuntimeContext, throwOnDeny bool) *Guard {
	return &Guard{rc: rc, throwOnDeny: throwOnDeny}
}

// Check evaluates action against resource and, if throwOnDeny is set,
// returns a *DeniedError for any non-allowed Decision.
func (g *Guard) Check(action, resource string) (policy.Decision, error) {
	d := g.rc.CheckAction(action, resource)
	if !d.Allowed && g.throwOnDeny {
		return d, &DeniedError{Decision: d}
	}
	return d, nil
}
