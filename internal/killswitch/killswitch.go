// Package killswitch implements the Kill Switch state machine: out-of-band,
// signature-verified PAUSE/RESUME/TERMINATE commands with replay
// protection (spec.md §4.5).
package killswitch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/agentcore/internal/canon"
	"github.com/agentwarden/agentcore/internal/signature"
)

// State is one of the three kill-switch states. TERMINATED is absorbing.
type State string

const (
	StateActive     State = "ACTIVE"
	StatePaused     State = "PAUSED"
	StateTerminated State = "TERMINATED"
)

// Command is one of the three directives a Kill Switch accepts.
type Command string

const (
	CommandPause     Command = "PAUSE"
	CommandResume    Command = "RESUME"
	CommandTerminate Command = "TERMINATE"
)

// Envelope is the wire shape of a kill-switch command (spec.md §3/§6).
type Envelope struct {
	CommandID        string    `json:"commandId"`
	Command          Command   `json:"command"`
	Reason           string    `json:"reason"`
	IssuedBy         string    `json:"issuedBy"`
	IssuedAt         time.Time `json:"issuedAt"`
	Timestamp        time.Time `json:"timestamp"`
	Signature        string    `json:"signature"`
	TargetInstanceID string    `json:"targetInstanceId,omitempty"`
}

// ProcessResult is processCommand's outcome.
type ProcessResult struct {
	Applied bool
	Replay  bool
	Reason  string
	State   State
}

// Config configures a Switch (spec.md §6).
type Config struct {
	RequireSignature bool
	MaxAge           time.Duration // default 5 minutes
}

// DefaultConfig returns the documented defaults. RequireSignature defaults
// to true; callers wanting the insecure development mode must opt out
// explicitly.
func DefaultConfig() Config {
	return Config{RequireSignature: true, MaxAge: 5 * time.Minute}
}

// Switch is the process-wide Kill Switch state machine.
type Switch struct {
	mu sync.RWMutex

	cfg      Config
	verifier *signature.Verifier
	logger   *slog.Logger

	state     State
	processed map[string]bool
	history   []Envelope

	onApplied          func(Envelope, State)
	onInvalidSignature func(Envelope)
}

// New constructs a Switch in the initial ACTIVE state.
func New(cfg Config, verifier *signature.Verifier, logger *slog.Logger) *Switch {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{
		cfg:       cfg,
		verifier:  verifier,
		logger:    logger.With("component", "killswitch.Switch"),
		state:     StateActive,
		processed: make(map[string]bool),
	}
}

// OnApplied registers a handler fired whenever a command is newly applied
// ("killswitch.applied").
func (s *Switch) OnApplied(fn func(Envelope, State)) { s.onApplied = fn }

// OnInvalidSignature registers a handler fired on signature rejection
// ("signature.invalid").
func (s *Switch) OnInvalidSignature(fn func(Envelope)) { s.onInvalidSignature = fn }

// canonicalMessage returns the bytes signed by the command issuer: the
// envelope's canonical JSON, excluding the Signature field itself.
func canonicalMessage(e Envelope) ([]byte, error) {
	type wire struct {
		CommandID        string    `json:"commandId"`
		Command          Command   `json:"command"`
		Reason           string    `json:"reason"`
		IssuedBy         string    `json:"issuedBy"`
		IssuedAt         time.Time `json:"issuedAt"`
		Timestamp        time.Time `json:"timestamp"`
		TargetInstanceID string    `json:"targetInstanceId,omitempty"`
	}
	w := wire{e.CommandID, e.Command, e.Reason, e.IssuedBy, e.IssuedAt, e.Timestamp, e.TargetInstanceID}
	return canon.Canonicalize(w)
}

// ProcessCommand applies cmd per the ordered rules of spec.md §4.5:
// replay dedup, signature verification, staleness window, then transition.
func (s *Switch) ProcessCommand(cmd Envelope, now time.Time) ProcessResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processed[cmd.CommandID] {
		return ProcessResult{Applied: false, Replay: true, Reason: "command already processed", State: s.state}
	}

	if s.cfg.RequireSignature {
		msg, err := canonicalMessage(cmd)
		if err != nil {
			return ProcessResult{Applied: false, Reason: "failed to canonicalise command: " + err.Error(), State: s.state}
		}
		if err := s.verifier.Verify(msg, cmd.Signature); err != nil {
			if s.onInvalidSignature != nil {
				s.onInvalidSignature(cmd)
			}
			s.logger.Warn("kill-switch command rejected: invalid signature", "command_id", cmd.CommandID, "error", err)
			return ProcessResult{Applied: false, Reason: "invalid signature: " + err.Error(), State: s.state}
		}
	}

	age := now.Sub(cmd.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > s.cfg.MaxAge {
		return ProcessResult{Applied: false, Reason: "command timestamp outside max age window", State: s.state}
	}

	next := s.transition(cmd.Command)

	s.processed[cmd.CommandID] = true
	s.history = append(s.history, cmd)
	s.state = next

	s.logger.Info("kill-switch command applied",
		"command_id", cmd.CommandID,
		"command", cmd.Command,
		"new_state", next,
		"issued_by", cmd.IssuedBy,
	)
	if s.onApplied != nil {
		s.onApplied(cmd, next)
	}

	return ProcessResult{Applied: true, State: next}
}

// transition computes the next state for cmd without side effects.
// TERMINATED is absorbing: any command arriving afterward leaves it
// unchanged.
func (s *Switch) transition(cmd Command) State {
	if s.state == StateTerminated {
		return StateTerminated
	}
	switch cmd {
	case CommandPause:
		return StatePaused
	case CommandResume:
		return StateActive
	case CommandTerminate:
		return StateTerminated
	default:
		return s.state
	}
}

// ShouldContinue reports whether the agent may keep operating: false in
// PAUSED or TERMINATED.
func (s *Switch) ShouldContinue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateActive
}

// CurrentState returns the switch's current state.
func (s *Switch) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns the ordered list of applied commands.
func (s *Switch) History() []Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Envelope, len(s.history))
	copy(out, s.history)
	return out
}
