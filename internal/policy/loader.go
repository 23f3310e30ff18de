package policy

import (
	"log/slog"

	"github.com/agentwarden/agentcore/internal/config"
)

// Loader compiles configured custom checks into CEL-backed CustomCheck
// instances ready to register on an Engine.
type Loader struct {
	celEval *CELEvaluator
	logger  *slog.Logger
}

// NewLoader creates a policy Loader bound to evaluator.
func NewLoader(celEval *CELEvaluator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{celEval: celEval, logger: logger.With("component", "policy.Loader")}
}

// BuildCustomChecks compiles each configured CEL custom check (spec.md
// §4.3 step 7) into a CustomCheck. countFn binds the dynamic
// action_count_in_window function for expressions that reference it; pass
// nil if no session-scoped counter is available, in which case such
// expressions evaluate the function to zero. A check that fails to
// compile is logged and skipped rather than failing the whole load, so
// one bad expression does not prevent startup.
func (l *Loader) BuildCustomChecks(checks []config.CustomCheckConfig, countFn ActionCountFunc) []CustomCheck {
	out := make([]CustomCheck, 0, len(checks))
	for _, c := range checks {
		check, err := l.celEval.CompileCheck(c.Name, c.Expression, c.Reason, countFn)
		if err != nil {
			l.logger.Error("skipping custom check with invalid CEL expression",
				"name", c.Name, "expression", c.Expression, "error", err)
			continue
		}
		out = append(out, check)
	}
	l.logger.Info("loaded custom checks", "configured", len(checks), "compiled", len(out))
	return out
}
