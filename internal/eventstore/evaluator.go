package eventstore

import (
	"strings"
	"time"

	"github.com/agentwarden/agentcore/internal/identity"
	"github.com/agentwarden/agentcore/internal/pattern"
)

// evaluatedTypes are the event types routed through the policy evaluator
// before acceptance (spec.md §4.10).
var evaluatedTypes = []string{"asset.*", "scan.completed", "classification.changed"}

// Violation is one rule failure found by the Evaluator.
type Violation struct {
	RuleID   string
	Rule     string
	Severity string
	Reason   string
	Waived   bool
}

// Suggestion codes attached to an evaluation outcome.
const (
	SuggestLinkThread     = "SUGGEST_LINK_THREAD"
	SuggestCorrelationID  = "SUGGEST_CORRELATION_ID"
	SuggestSignHighCrit   = "SUGGEST_SIGN_HIGH_CRIT"
)

// ConformanceGap names a conformance-target requirement the event fails.
type ConformanceGap struct {
	Target ConformanceTarget
	Reason string
}

// EvalResult is the Evaluator's per-event output, attached to the push
// response (spec.md §4.10).
type EvalResult struct {
	Passed           bool
	Violations       []Violation
	Warnings         []string
	ConformanceGaps  []ConformanceGap
	Suggestions      []string
}

// Evaluator is the per-event policy evaluator: waivers, conformance gaps,
// and suggestions, run before an evaluated-type event is accepted.
type Evaluator struct {
	bundles BundleStore

	// OrphanDeadlineWarnWindow is how far ahead of an orphan's remediation
	// deadline a warning is raised.
	OrphanDeadlineWarnWindow time.Duration
	// LinkedThreadStaleAfter is how old a linked golden thread's
	// verification may be before it is flagged stale.
	LinkedThreadStaleAfter time.Duration
}

// NewEvaluator constructs an Evaluator backed by bundles, with spec.md's
// documented defaults (30-day stale threshold, 72h deadline warn window).
func NewEvaluator(bundles BundleStore) *Evaluator {
	return &Evaluator{
		bundles:                  bundles,
		OrphanDeadlineWarnWindow: 72 * time.Hour,
		LinkedThreadStaleAfter:   30 * 24 * time.Hour,
	}
}

// IsEvaluatedType reports whether eventType is routed through the
// evaluator before acceptance.
func IsEvaluatedType(eventType string) bool {
	for _, t := range evaluatedTypes {
		if t == eventType {
			return true
		}
		if strings.HasSuffix(t, ".*") && strings.HasPrefix(eventType, strings.TrimSuffix(t, "*")) {
			return true
		}
	}
	return false
}

// Evaluate runs evt against orgId's active bundle (if any) and returns the
// combined result. A nil *EvalResult means no bundle was active — the
// caller should treat the event as unevaluated, not denied.
func (e *Evaluator) Evaluate(orgID string, evt Event, now time.Time) (*EvalResult, error) {
	bundle, err := e.bundles.GetActiveBundle(orgID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, nil
	}

	result := &EvalResult{Passed: true}

	for _, rule := range bundle.Rules {
		if !ruleApplies(rule, evt.Type) {
			continue
		}
		ok, reason := runCheck(rule.Check, evt)
		if ok {
			continue
		}
		v := Violation{RuleID: rule.ID, Rule: rule.Name, Severity: rule.Severity, Reason: reason}
		if waived := findActiveWaiver(bundle.Waivers, rule.ID, now); waived {
			v.Waived = true
		}
		result.Violations = append(result.Violations, v)
	}

	for _, v := range result.Violations {
		if !v.Waived && v.Severity == "blocking" {
			result.Passed = false
			break
		}
	}

	result.Warnings = governanceWarnings(evt, now, e.OrphanDeadlineWarnWindow, e.LinkedThreadStaleAfter)
	result.ConformanceGaps = conformanceGaps(bundle.ConformanceTarget, evt)
	result.Suggestions = suggestions(evt)

	return result, nil
}

func ruleApplies(rule Rule, eventType string) bool {
	if len(rule.AppliesTo) == 0 {
		return true
	}
	list, err := pattern.CompileList(rule.AppliesTo)
	if err != nil {
		return false
	}
	return list.Matches(eventType)
}

func findActiveWaiver(waivers []Waiver, ruleID string, now time.Time) bool {
	for _, w := range waivers {
		if w.RuleID == ruleID && w.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// runCheck dispatches to a named builtin check. Unknown checks pass by
// default — the bundle author is responsible for naming real checks.
func runCheck(check string, evt Event) (bool, string) {
	switch check {
	case "requires_signature":
		if evt.Signature == "" {
			return false, "event is unsigned"
		}
		return true, ""
	case "requires_correlation_id":
		if evt.CorrelationID == "" {
			return false, "event has no correlationId"
		}
		return true, ""
	case "requires_linked_thread":
		if evt.GoldenThread.Kind != identity.ThreadLinked {
			return false, "golden thread is not linked"
		}
		return true, ""
	default:
		return true, ""
	}
}

func governanceWarnings(evt Event, now time.Time, deadlineWindow, staleAfter time.Duration) []string {
	var warnings []string
	gt := evt.GoldenThread

	if gt.Kind == identity.ThreadOrphan && gt.RemediationDeadline != nil {
		switch {
		case now.After(*gt.RemediationDeadline):
			warnings = append(warnings, "orphan remediation deadline overdue")
		case gt.RemediationDeadline.Sub(now) <= deadlineWindow:
			warnings = append(warnings, "orphan remediation deadline approaching")
		}
	}

	if gt.Kind == identity.ThreadLinked {
		if gt.Status != "" && gt.Status != "active" {
			warnings = append(warnings, "linked golden thread status is not active")
		}
		if gt.VerifiedAt != nil && now.Sub(*gt.VerifiedAt) > staleAfter {
			warnings = append(warnings, "linked golden thread verification is stale")
		}
	}

	return warnings
}

func conformanceGaps(target ConformanceTarget, evt Event) []ConformanceGap {
	var gaps []ConformanceGap
	switch target {
	case ConformanceSilver:
		if evt.Signature == "" {
			gaps = append(gaps, ConformanceGap{Target: ConformanceSilver, Reason: "SILVER requires a signature"})
		}
	case ConformanceGold:
		if evt.Signature == "" {
			gaps = append(gaps, ConformanceGap{Target: ConformanceGold, Reason: "GOLD requires a signature"})
		}
		if evt.PreviousHash == "" {
			gaps = append(gaps, ConformanceGap{Target: ConformanceGold, Reason: "GOLD requires previousHash"})
		}
	}
	return gaps
}

func suggestions(evt Event) []string {
	var out []string
	if evt.GoldenThread.Kind == identity.ThreadOrphan {
		out = append(out, SuggestLinkThread)
	}
	if evt.CorrelationID == "" {
		out = append(out, SuggestCorrelationID)
	}
	if (evt.Criticality == CriticalityHigh || evt.Criticality == CriticalityCritical) && evt.Signature == "" {
		out = append(out, SuggestSignHighCrit)
	}
	return out
}
