// Package policy implements the Policy Engine: the central decision
// function composing the Pattern Matcher, Budget Tracker, and Kill Switch
// into a single permission Decision (spec.md §4.3).
package policy

import (
	"log/slog"
	"time"

	"github.com/agentwarden/agentcore/internal/budget"
	"github.com/agentwarden/agentcore/internal/capability"
)

// DeniedBy enumerates the reasons a Decision may deny an action.
type DeniedBy string

const (
	DeniedByNone       DeniedBy = ""
	DeniedByKillSwitch DeniedBy = "kill_switch"
	DeniedByCapability DeniedBy = "capability"
	DeniedByResource   DeniedBy = "resource"
	DeniedByBudget     DeniedBy = "budget"
	DeniedByCustom     DeniedBy = "custom"
)

// Request is one action an agent attempts to take.
type Request struct {
	Action          string
	Resource        string
	EstimatedCost   *float64
	EstimatedTokens *int
	Params          map[string]any
}

// Decision is the Policy Engine's output for one Request.
type Decision struct {
	Allowed          bool
	DeniedBy         DeniedBy
	Reason           string
	Recommendations  []string
	EvaluationTimeMs float64
	DryRun           bool
}

// KillSwitch is the subset of killswitch.Switch the engine depends on.
type KillSwitch interface {
	ShouldContinue() bool
}

// CustomCheck is one extension-point check run after the built-in rules
// (spec.md §4.3 step 7). Returning deny=true denies the request with the
// returned reason.
type CustomCheck interface {
	Name() string
	Check(req Request) (deny bool, reason string)
}

// Config configures an Engine (spec.md §6).
type Config struct {
	DryRun bool
}

// Engine is the central policy decision function for one agent's
// capability manifest. Internally synchronous; safe to call concurrently
// from multiple goroutines guarding the same agent.
type Engine struct {
	cfg      Config
	caps     capability.Capabilities
	matchers capability.Matchers
	tracker  *budget.Tracker
	kill     KillSwitch
	checks   []CustomCheck
	logger   *slog.Logger
}

// New constructs an Engine. matchers must have been compiled from caps via
// capability.CompileMatchers.
func New(cfg Config, caps capability.Capabilities, matchers capability.Matchers, tracker *budget.Tracker, kill KillSwitch, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, caps: caps, matchers: matchers, tracker: tracker, kill: kill, logger: logger.With("component", "policy.Engine")}
}

// AddCustomCheck registers a custom check, run in registration order after
// the built-in rules.
func (e *Engine) AddCustomCheck(c CustomCheck) {
	e.checks = append(e.checks, c)
}

// Check runs the full decision pipeline, including custom checks, against
// req as of now.
func (e *Engine) Check(req Request, now time.Time) Decision {
	d := e.evaluate(req, now, true)
	d.EvaluationTimeMs = elapsedMs(now)
	return e.applyDryRun(d)
}

// CheckSync runs the decision pipeline without custom checks, for the
// <1ms-P99 synchronous hot path.
func (e *Engine) CheckSync(req Request, now time.Time) Decision {
	d := e.evaluate(req, now, false)
	d.EvaluationTimeMs = elapsedMs(now)
	return e.applyDryRun(d)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// applyDryRun inverts a denial to allowed=true while preserving DeniedBy
// and rewriting Reason with a WOULD_DENY prefix, per spec.md §4.3.
func (e *Engine) applyDryRun(d Decision) Decision {
	if !e.cfg.DryRun {
		return d
	}
	d.DryRun = true
	if !d.Allowed {
		d.Reason = "WOULD_DENY: " + d.Reason
		d.Allowed = true
	}
	return d
}

func (e *Engine) evaluate(req Request, now time.Time, runCustom bool) Decision {
	// 1. Kill switch gate.
	if e.kill != nil && !e.kill.ShouldContinue() {
		return deny(DeniedByKillSwitch, "kill switch is active",
			"wait for an operator to RESUME the kill switch before retrying")
	}

	// 2. Token limit.
	if e.caps.MaxTokensPerCall != nil && req.EstimatedTokens != nil && *req.EstimatedTokens > *e.caps.MaxTokensPerCall {
		return deny(DeniedByBudget, "estimated tokens exceed maxTokensPerCall",
			"reduce estimatedTokens or raise maxTokensPerCall in the agent's capability manifest")
	}

	// 3. Budget gate.
	if e.tracker != nil {
		cost := 0.0
		if req.EstimatedCost != nil {
			cost = *req.EstimatedCost
		}
		if r := e.tracker.CheckBudget(cost, now); !r.Allowed {
			return deny(DeniedByBudget, r.Reason,
				"reduce estimatedCost or request a budget increase for this agent")
		}
		if r := e.tracker.CheckRateLimit(now); !r.Allowed {
			return deny(DeniedByBudget, r.Reason,
				"slow down call frequency or raise the rate limit in the capability manifest")
		}
	}

	// 4. Tool allow — empty allowedTools is a wildcard allow.
	if !e.matchers.AllowedTools.Empty() && !e.matchers.AllowedTools.Matches(req.Action) {
		return deny(DeniedByCapability, "action not in allowedTools",
			"add \""+req.Action+"\" to the agent's allowedTools")
	}

	// 5. Tool deny — always wins over allow.
	if e.matchers.DeniedTools.Matches(req.Action) {
		return deny(DeniedByCapability, "action matches deniedTools",
			"remove \""+req.Action+"\" from deniedTools or use a different action")
	}

	// 6. Resource.
	if req.Resource != "" && req.Resource != "*" {
		if e.matchers.DeniedDomains.Matches(req.Resource) {
			return deny(DeniedByResource, "resource matches deniedDomains",
				"remove \""+req.Resource+"\" from deniedDomains or target a different resource")
		}
		allowAll := e.matchers.AllowedDomains.Empty() || e.matchers.AllowedDomains.HasWildcard()
		if !allowAll && !e.matchers.AllowedDomains.Matches(req.Resource) {
			return deny(DeniedByResource, "resource not in allowedDomains",
				"add \""+req.Resource+"\" to the agent's allowedDomains")
		}
	}

	// 7. Custom checks.
	if runCustom {
		for _, c := range e.checks {
			if d, reason := c.Check(req); d {
				return deny(DeniedByCustom, reason,
					"review the \""+c.Name()+"\" custom check's requirements for this request")
			}
		}
	}

	// 8. Allow.
	return Decision{Allowed: true, DeniedBy: DeniedByNone}
}

func deny(reason DeniedBy, msg string, recommendations ...string) Decision {
	return Decision{Allowed: false, DeniedBy: reason, Reason: msg, Recommendations: recommendations}
}
