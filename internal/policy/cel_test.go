package policy

import "testing"

func mustNewCELEvaluator(t *testing.T) *CELEvaluator {
	t.Helper()
	eval, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator() error: %v", err)
	}
	return eval
}

func TestCELEvaluator_CompileValidExpression(t *testing.T) {
	eval := mustNewCELEvaluator(t)

	tests := []struct {
		name string
		expr string
	}{
		{"action equality", `action == "llm.chat"`},
		{"estimated cost check", `estimated_cost > 10.0`},
		{"estimated tokens check", `estimated_tokens > 100`},
		{"combined conditions", `action == "llm.chat" && estimated_cost > 5.0`},
		{"resource check", `resource == "prod-db"`},
		{"negation", `!(action == "llm.chat")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := eval.CompileCheck(tt.name, tt.expr, "denied", nil)
			if err != nil {
				t.Fatalf("CompileCheck(%q) error: %v", tt.expr, err)
			}
			if check.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", check.Name(), tt.name)
			}
		})
	}
}

func TestCELEvaluator_CompileInvalidExpression(t *testing.T) {
	eval := mustNewCELEvaluator(t)

	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `action ==`},
		{"undefined variable", `nonexistent.field == "test"`},
		{"type mismatch", `action > 5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eval.CompileCheck("check", tt.expr, "denied", nil)
			if err == nil {
				t.Errorf("CompileCheck(%q) expected error, got nil", tt.expr)
			}
		})
	}
}

func TestCELEvaluator_CompileNonBoolExpression(t *testing.T) {
	eval := mustNewCELEvaluator(t)
	if _, err := eval.CompileCheck("check", `action`, "denied", nil); err == nil {
		t.Error("CompileCheck for non-bool expression should return error")
	}
}

func TestCELCheck_EvaluateAction(t *testing.T) {
	eval := mustNewCELEvaluator(t)
	check, err := eval.CompileCheck("action-check", `action == "llm.chat"`, "blocked chat", nil)
	if err != nil {
		t.Fatalf("CompileCheck error: %v", err)
	}

	tests := []struct {
		name       string
		actionType string
		wantDeny   bool
	}{
		{"matching action", "llm.chat", true},
		{"non-matching action", "tool.call", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deny, reason := check.Check(Request{Action: tt.actionType})
			if deny != tt.wantDeny {
				t.Errorf("Check() deny = %v, want %v", deny, tt.wantDeny)
			}
			if tt.wantDeny && reason != "blocked chat" {
				t.Errorf("reason = %q, want %q", reason, "blocked chat")
			}
		})
	}
}

func TestCELCheck_EvaluateEstimatedCost(t *testing.T) {
	eval := mustNewCELEvaluator(t)
	check, err := eval.CompileCheck("cost-check", `estimated_cost > 10.0`, "over budget", nil)
	if err != nil {
		t.Fatalf("CompileCheck error: %v", err)
	}

	tests := []struct {
		name string
		cost float64
		want bool
	}{
		{"over threshold", 15.0, true},
		{"at threshold", 10.0, false},
		{"under threshold", 5.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := tt.cost
			deny, _ := check.Check(Request{Action: "llm.chat", EstimatedCost: &cost})
			if deny != tt.want {
				t.Errorf("Check(cost=%f) deny = %v, want %v", tt.cost, deny, tt.want)
			}
		})
	}
}

func TestCELCheck_ActionCountInWindowUsesDynamicFunction(t *testing.T) {
	eval := mustNewCELEvaluator(t)

	countFn := func(actionType, window string) int {
		if actionType == "search_web" && window == "60s" {
			return 10
		}
		return 0
	}

	check, err := eval.CompileCheck("rate-check", `action_count_in_window("search_web", "60s") > 5`, "rate exceeded", countFn)
	if err != nil {
		t.Fatalf("CompileCheck error: %v", err)
	}
	if !check.usesDynFn {
		t.Error("expected usesDynFn=true for expression referencing action_count_in_window")
	}

	deny, reason := check.Check(Request{Action: "search_web"})
	if !deny {
		t.Error("expected deny when dynamic count exceeds threshold")
	}
	if reason != "rate exceeded" {
		t.Errorf("reason = %q, want %q", reason, "rate exceeded")
	}
}

func TestCELCheck_NilCountFuncTreatedAsZero(t *testing.T) {
	eval := mustNewCELEvaluator(t)
	check, err := eval.CompileCheck("rate-check", `action_count_in_window("search_web", "60s") > 5`, "rate exceeded", nil)
	if err != nil {
		t.Fatalf("CompileCheck error: %v", err)
	}

	deny, _ := check.Check(Request{Action: "search_web"})
	if deny {
		t.Error("expected allow when countFn is nil (treated as zero count)")
	}
}

func TestCELCheck_NilParamsHandled(t *testing.T) {
	eval := mustNewCELEvaluator(t)
	check, err := eval.CompileCheck("check", `action == "llm.chat"`, "denied", nil)
	if err != nil {
		t.Fatalf("CompileCheck error: %v", err)
	}

	deny, _ := check.Check(Request{Action: "llm.chat", Params: nil})
	if !deny {
		t.Error("expected deny=true with nil params")
	}
}

func TestContainsFunc(t *testing.T) {
	if !containsFunc(`action_count_in_window("a", "1m") > 5`, "action_count_in_window") {
		t.Error("expected containsFunc to find action_count_in_window")
	}
	if containsFunc(`action == "llm.chat"`, "action_count_in_window") {
		t.Error("expected containsFunc to not find action_count_in_window")
	}
}
