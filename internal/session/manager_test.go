package session

import (
	"testing"
	"time"

	"github.com/agentwarden/agentcore/internal/budget"
)

func TestManager_GetOrCreateGeneratesSessionID(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()

	sess, err := m.GetOrCreate("agent-1", "", budget.Limits{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected generated session ID")
	}
	if sess.Status != StatusActive {
		t.Fatalf("expected StatusActive, got %v", sess.Status)
	}
}

func TestManager_GetOrCreateReturnsExistingSession(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()

	first, err := m.GetOrCreate("agent-1", "fixed-id", budget.Limits{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.GetOrCreate("agent-1", "fixed-id", budget.Limits{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("expected GetOrCreate to return the same session instance")
	}
}

func TestManager_GetOrCreateRequiresAgentID(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.GetOrCreate("", "", budget.Limits{}, time.Now()); err == nil {
		t.Fatal("expected error for empty agentID")
	}
}

func TestManager_EndRemovesFromActiveSet(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	sess, _ := m.GetOrCreate("agent-1", "", budget.Limits{}, now)

	if err := m.End(sess.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Get(sess.ID) != nil {
		t.Fatal("expected session to be gone from active set after End")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("expected ActiveCount 0, got %d", m.ActiveCount())
	}
}

func TestManager_TerminateRemovesFromActiveSet(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	sess, _ := m.GetOrCreate("agent-1", "", budget.Limits{}, now)

	if err := m.Terminate(sess.ID, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Get(sess.ID) != nil {
		t.Fatal("expected session to be gone after Terminate")
	}
}

func TestManager_TerminateUnknownSessionErrors(t *testing.T) {
	m := NewManager(nil)
	if err := m.Terminate("nope", time.Now()); err == nil {
		t.Fatal("expected error terminating an unknown session")
	}
}

func TestManager_ActionCountInWindowPrunesExpired(t *testing.T) {
	m := NewManager(nil)
	base := time.Now()
	sess, _ := m.GetOrCreate("agent-1", "", budget.Limits{}, base)

	m.IncrementActions(sess.ID, "search_web", base)
	m.IncrementActions(sess.ID, "search_web", base.Add(10*time.Second))
	m.IncrementActions(sess.ID, "search_web", base.Add(2*time.Minute))

	count := m.ActionCountInWindow(sess.ID, "search_web", time.Minute, base.Add(2*time.Minute+time.Second))
	if count != 1 {
		t.Fatalf("expected 1 action within trailing minute, got %d", count)
	}

	countAll := m.ActionCountInWindow(sess.ID, "search_web", 10*time.Minute, base.Add(2*time.Minute+time.Second))
	if countAll != 3 {
		t.Fatalf("expected 3 actions within trailing 10 minutes, got %d", countAll)
	}
}

func TestManager_CountFuncForParsesWindowString(t *testing.T) {
	m := NewManager(nil)
	base := time.Now()
	sess, _ := m.GetOrCreate("agent-1", "", budget.Limits{}, base)
	m.IncrementActions(sess.ID, "send_email", base)

	fn := m.CountFuncFor(sess.ID)
	if got := fn("send_email", "5m"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := fn("send_email", "not-a-duration"); got != 0 {
		t.Fatalf("expected 0 for invalid window, got %d", got)
	}
}

func TestManager_PauseState(t *testing.T) {
	m := NewManager(nil)
	sess, _ := m.GetOrCreate("agent-1", "", budget.Limits{}, time.Now())

	if m.IsPaused(sess.ID) {
		t.Fatal("expected not paused initially")
	}
	if err := m.SetPaused(sess.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.IsPaused(sess.ID) {
		t.Fatal("expected paused after SetPaused(true)")
	}
	if m.Get(sess.ID).Status != StatusPaused {
		t.Fatalf("expected StatusPaused, got %v", m.Get(sess.ID).Status)
	}
}

func TestManager_BudgetTrackerIsPerSession(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	maxCost := 5.0
	sess, err := m.GetOrCreate("agent-1", "", budget.Limits{MaxCostPerSession: &maxCost}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess.Budget.RecordCost(4.0, now)
	result := sess.Budget.CheckBudget(2.0, now)
	if result.Allowed {
		t.Fatal("expected budget check to deny once session limit would be exceeded")
	}
}
