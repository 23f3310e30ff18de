package cost

import (
	"time"

	"github.com/agentwarden/agentcore/internal/budget"
)

// Estimator computes an action's USD cost from model token pricing and
// feeds it into a Budget Tracker, bridging the cost model to the Policy
// Engine's budget gate (spec.md §4.3 step 3).
type Estimator struct {
	tracker *Tracker
}

// NewEstimator wraps tracker for budget-feeding use.
func NewEstimator(tracker *Tracker) *Estimator {
	return &Estimator{tracker: tracker}
}

// EstimateAndRecord computes the cost of a model call and records it
// against both this session's running totals and the supplied Budget
// Tracker, returning the computed cost so a caller can log or surface it.
func (e *Estimator) EstimateAndRecord(sessionID, agentID, model string, inputTokens, outputTokens int, budgetTracker *budget.Tracker, now time.Time) float64 {
	cost := e.tracker.RecordUsage(sessionID, agentID, model, inputTokens, outputTokens)
	if budgetTracker != nil {
		budgetTracker.RecordCost(cost, now)
	}
	return cost
}
