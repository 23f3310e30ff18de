package capability

import (
	"strings"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }

func TestComputeChild_DecayEscalationScenario(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)

	parent := Capabilities{
		AllowedTools:      []string{"search_*", "read_*"},
		MaxChildDepth:     2,
		MaxCostPerSession: floatPtr(100),
		MaySpawnChildren:  true,
	}

	opts := ChildOptions{
		AllowedTools:      []string{"search_*", "admin_*"},
		MaxCostPerSession: floatPtr(50),
	}

	result := mgr.ComputeChild("parent-1", parent, opts, 1)

	if len(result.Effective.AllowedTools) != 1 || result.Effective.AllowedTools[0] != "search_*" {
		t.Errorf("effective.AllowedTools = %v, want [search_*]", result.Effective.AllowedTools)
	}

	if result.Effective.MaxCostPerSession == nil || *result.Effective.MaxCostPerSession != 40 {
		t.Errorf("effective.MaxCostPerSession = %v, want 40", result.Effective.MaxCostPerSession)
	}

	if result.Effective.MaxChildDepth != 1 {
		t.Errorf("effective.MaxChildDepth = %d, want 1", result.Effective.MaxChildDepth)
	}

	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "TOOL_ESCALATION") && strings.Contains(e, "admin_*") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected TOOL_ESCALATION error for admin_*, got %v", result.Errors)
	}
}

func TestComputeChild_NoEscalationIsValid(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)
	parent := Capabilities{AllowedTools: []string{"search_*"}, MaxChildDepth: 1}
	result := mgr.ComputeChild("p", parent, ChildOptions{}, 1)
	if !result.Valid {
		t.Errorf("expected valid result, errors=%v", result.Errors)
	}
}

func TestComputeChild_MaxChildDepthZero(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)
	parent := Capabilities{MaxChildDepth: 0}
	result := mgr.ComputeChild("p", parent, ChildOptions{}, 1)
	if result.Effective.MaxChildDepth != 0 {
		t.Errorf("MaxChildDepth = %d, want 0", result.Effective.MaxChildDepth)
	}
}

func TestComputeChild_SpawnDowngradeWarning(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)
	parent := Capabilities{MaySpawnChildren: false}
	grant := true
	result := mgr.ComputeChild("p", parent, ChildOptions{MaySpawnChildren: &grant}, 1)
	if result.Effective.MaySpawnChildren {
		t.Error("expected spawn permission downgraded to false")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a downgrade warning")
	}
}

func TestCompareCapabilities_NoEscalation(t *testing.T) {
	parent := Capabilities{AllowedTools: []string{"search_*", "read_*"}, MaxChildDepth: 2}
	child := Capabilities{AllowedTools: []string{"search_*"}, MaxChildDepth: 1}
	cmp := CompareCapabilities(parent, child)
	if cmp.HasEscalation {
		t.Error("expected no escalation for a strict subset")
	}
	if !cmp.IsDecayed {
		t.Error("expected IsDecayed true")
	}
}

func TestCompareCapabilities_WildcardEscalation(t *testing.T) {
	parent := Capabilities{AllowedTools: []string{"search_*"}}
	child := Capabilities{AllowedTools: []string{"*"}}
	cmp := CompareCapabilities(parent, child)
	if !cmp.HasEscalation {
		t.Error("expected escalation when child gains wildcard parent lacks")
	}
}

func TestCompareCapabilities_ParentWildcardAllowsChildWildcard(t *testing.T) {
	parent := Capabilities{AllowedTools: []string{"*"}}
	child := Capabilities{AllowedTools: []string{"*"}}
	cmp := CompareCapabilities(parent, child)
	if cmp.HasEscalation {
		t.Error("expected no escalation: parent wildcard preserved in child")
	}
}

func TestExplicitMode_RejectsOutOfBoundsField(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)
	explicit := ModeExplicit
	parent := Capabilities{AllowedDomains: []string{"example.com"}, MaxChildDepth: 1}
	opts := ChildOptions{Mode: &explicit, AllowedDomains: []string{"evil.com"}}
	result := mgr.ComputeChild("p", parent, opts, 1)
	if result.Valid {
		t.Error("expected invalid result for out-of-bounds explicit domain")
	}
}

func TestInheritMode_AppliesCostDecayOnly(t *testing.T) {
	mgr := NewManager(DefaultGlobalConfig(), nil)
	inherit := ModeInherit
	parent := Capabilities{AllowedTools: []string{"search_*"}, MaxCostPerSession: floatPtr(100), MaxChildDepth: 3}
	opts := ChildOptions{Mode: &inherit}
	result := mgr.ComputeChild("p", parent, opts, 1)
	if len(result.Effective.AllowedTools) != 1 || result.Effective.AllowedTools[0] != "search_*" {
		t.Errorf("inherit mode should copy tools verbatim, got %v", result.Effective.AllowedTools)
	}
	if result.Effective.MaxCostPerSession == nil || *result.Effective.MaxCostPerSession != 80 {
		t.Errorf("MaxCostPerSession = %v, want 80", result.Effective.MaxCostPerSession)
	}
}
