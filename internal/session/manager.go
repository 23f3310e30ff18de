// Package session manages active agent runtime sessions in memory: one
// Budget Tracker and one sliding-window action counter per session, the
// latter feeding the Policy Engine's action_count_in_window CEL function
// (spec.md §4.3 step 7, §6).
package session

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/agentcore/internal/budget"
	"github.com/agentwarden/agentcore/internal/policy"
)

const (
	sessionIDPrefix = "ses_"
	sessionIDLength = 20
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
	StatusPaused     Status = "paused"
)

// Session is one agent runtime session: an identity's working window,
// tied to its own Budget Tracker.
type Session struct {
	ID          string
	AgentID     string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      Status
	ActionCount int
	Budget      *budget.Tracker
}

// sessionState holds mutable in-memory state, accessed only under the
// Manager's lock.
type sessionState struct {
	session          *Session
	paused           bool
	actionTimestamps map[string][]time.Time
}

// Manager tracks active sessions in memory. A Manager is the single point
// where session lifecycle, budget accounting, and per-action-type sliding
// windows are coordinated.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	logger   *slog.Logger
}

// NewManager constructs an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		logger:   logger.With("component", "session.Manager"),
	}
}

// GetOrCreate retrieves an existing session or starts a new one governed
// by limits. If sessionID is empty, a new ID is generated.
func (m *Manager) GetOrCreate(agentID, sessionID string, limits budget.Limits, now time.Time) (*Session, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agentID is required")
	}

	if sessionID != "" {
		m.mu.RLock()
		if state, ok := m.sessions[sessionID]; ok {
			sess := state.session
			m.mu.RUnlock()
			return sess, nil
		}
		m.mu.RUnlock()
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	sess := &Session{
		ID:        sessionID,
		AgentID:   agentID,
		StartedAt: now,
		Status:    StatusActive,
		Budget:    budget.NewTracker(limits, now),
	}

	m.mu.Lock()
	m.sessions[sessionID] = &sessionState{session: sess, actionTimestamps: make(map[string][]time.Time)}
	m.mu.Unlock()

	m.logger.Info("created session", "session_id", sessionID, "agent_id", agentID)
	return sess, nil
}

// Get returns the session for id, or nil if not active.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.sessions[sessionID]; ok {
		return state.session
	}
	return nil
}

// End marks a session completed and removes it from the active set.
func (m *Manager) End(sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	delete(m.sessions, sessionID)
	state.session.EndedAt = &now
	state.session.Status = StatusCompleted
	m.logger.Info("ended session", "session_id", sessionID, "agent_id", state.session.AgentID,
		"session_cost", state.session.Budget.SessionCost(), "action_count", state.session.ActionCount)
	return nil
}

// Terminate marks a session terminated — used on kill-switch trip or a
// policy TERMINATE verdict — and removes it from the active set.
func (m *Manager) Terminate(sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	delete(m.sessions, sessionID)
	state.session.EndedAt = &now
	state.session.Status = StatusTerminated
	m.logger.Warn("terminated session", "session_id", sessionID, "agent_id", state.session.AgentID,
		"session_cost", state.session.Budget.SessionCost())
	return nil
}

// IncrementActions bumps the session's action count and records a
// timestamp for actionType, used by the sliding-window counter.
func (m *Manager) IncrementActions(sessionID, actionType string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	state.session.ActionCount++
	state.actionTimestamps[actionType] = append(state.actionTimestamps[actionType], now)
	return nil
}

// ActionCountInWindow returns how many actionType actions occurred within
// the trailing window, ending at now.
func (m *Manager) ActionCountInWindow(sessionID, actionType string, window time.Duration, now time.Time) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return 0
	}
	timestamps := state.actionTimestamps[actionType]
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// CountFuncFor returns a policy.ActionCountFunc bound to one session, for
// wiring into policy's (*CELEvaluator).CompileCheck as the
// action_count_in_window backer.
func (m *Manager) CountFuncFor(sessionID string) policy.ActionCountFunc {
	return func(actionType, window string) int {
		d, err := time.ParseDuration(window)
		if err != nil {
			m.logger.Warn("invalid window in action_count_in_window", "window", window, "error", err)
			return 0
		}
		return m.ActionCountInWindow(sessionID, actionType, d, time.Now())
	}
}

// SetPaused sets a session's paused state.
func (m *Manager) SetPaused(sessionID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	state.paused = paused
	if paused {
		state.session.Status = StatusPaused
	} else {
		state.session.Status = StatusActive
	}
	return nil
}

// IsPaused reports whether a session is currently paused.
func (m *Manager) IsPaused(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.sessions[sessionID]; ok {
		return state.paused
	}
	return false
}

// ActiveCount returns the number of currently active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func generateSessionID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s%d", sessionIDPrefix, time.Now().UnixNano())
	}
	for i := range b {
		b[i] = charset[b[i]%byte(len(charset))]
	}
	return sessionIDPrefix + string(b)
}
