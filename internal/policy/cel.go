package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"
)

// ActionCountFunc resolves how many actions of actionType occurred within
// the trailing window (e.g. "60s", "5m") for the session a CELCheck is
// bound to — the dynamic binding behind the action_count_in_window CEL
// function.
type ActionCountFunc func(actionType, window string) int

// CELEvaluator compiles and evaluates CEL expressions for custom policy
// checks (spec.md §4.3 step 7). Expressions are compiled once at
// construction time; evaluation only rebuilds the program when the
// expression references the dynamic action_count_in_window function.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the standard variable
// declarations available to custom checks.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("estimated_cost", cel.DoubleType),
		cel.Variable("estimated_tokens", cel.IntType),

		cel.Function("action_count_in_window",
			cel.Overload("action_count_in_window_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.IntType,
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{env: env, logger: logger.With("component", "policy.CELEvaluator")}, nil
}

// CELCheck is a CustomCheck backed by a single compiled CEL expression; it
// denies when the expression evaluates to true.
type CELCheck struct {
	name       string
	expression string
	reason     string
	ast        *cel.Ast
	program    cel.Program // nil when the expression uses the dynamic function
	usesDynFn  bool
	env        *cel.Env
	countFn    ActionCountFunc
}

// CompileCheck parses and type-checks expr, returning a CELCheck that
// denies with reason whenever expr evaluates to true. countFn may be nil
// if expr does not reference action_count_in_window.
func (c *CELEvaluator) CompileCheck(name, expr, reason string, countFn ActionCountFunc) (*CELCheck, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	check := &CELCheck{name: name, expression: expr, reason: reason, ast: ast, env: c.env, countFn: countFn}

	usesDynFn := containsFunc(expr, "action_count_in_window")
	check.usesDynFn = usesDynFn
	if !usesDynFn {
		prg, err := c.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
		}
		check.program = prg
	}

	c.logger.Debug("compiled custom check", "name", name, "expression", expr, "uses_dynamic_fn", usesDynFn)
	return check, nil
}

// Name returns the check's identifier.
func (c *CELCheck) Name() string { return c.name }

// Check implements policy.CustomCheck.
func (c *CELCheck) Check(req Request) (bool, string) {
	vars := map[string]any{
		"action":   req.Action,
		"resource": req.Resource,
		"params":   req.Params,
	}
	if vars["params"] == nil {
		vars["params"] = map[string]any{}
	}
	vars["estimated_cost"] = 0.0
	if req.EstimatedCost != nil {
		vars["estimated_cost"] = *req.EstimatedCost
	}
	vars["estimated_tokens"] = int64(0)
	if req.EstimatedTokens != nil {
		vars["estimated_tokens"] = int64(*req.EstimatedTokens)
	}

	prg := c.program
	if c.usesDynFn {
		countFn := func(args ...ref.Val) ref.Val {
			if len(args) != 2 {
				return types.NewErr("action_count_in_window requires 2 arguments")
			}
			actionType, ok1 := args[0].Value().(string)
			window, ok2 := args[1].Value().(string)
			if !ok1 || !ok2 {
				return types.NewErr("action_count_in_window arguments must be strings")
			}
			if c.countFn == nil {
				return types.Int(0)
			}
			return types.Int(int64(c.countFn(actionType, window)))
		}

		var err error
		prg, err = c.env.Program(c.ast, cel.Functions(&functions.Overload{
			Operator: "action_count_in_window_string_string",
			Function: countFn,
		}))
		if err != nil {
			return true, fmt.Sprintf("custom check %q failed to build: %v", c.name, err)
		}
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return true, fmt.Sprintf("custom check %q errored: %v", c.name, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Sprintf("custom check %q returned non-bool", c.name)
	}
	if result {
		return true, c.reason
	}
	return false, ""
}

// containsFunc is a cheap heuristic for whether expr references funcName,
// used only to decide whether to pre-build the CEL program.
func containsFunc(expr, funcName string) bool {
	for i := 0; i+len(funcName) <= len(expr); i++ {
		if expr[i:i+len(funcName)] == funcName {
			return true
		}
	}
	return false
}
