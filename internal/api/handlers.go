package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentwarden/agentcore/internal/eventstore"
	"github.com/agentwarden/agentcore/internal/killswitch"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	if s.kill == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}
	writeJSON(w, map[string]any{
		"state":   s.kill.CurrentState(),
		"history": s.kill.History(),
	})
}

func (s *Server) handleKillSwitchTrigger(w http.ResponseWriter, r *http.Request) {
	s.processKillSwitchCommand(w, r, "")
}

// handleKillSwitchReset accepts the same envelope shape as trigger but
// forces Command to RESUME — the caller still supplies a validly signed
// envelope; this endpoint only saves a client from constructing the
// RESUME command shape itself.
func (s *Server) handleKillSwitchReset(w http.ResponseWriter, r *http.Request) {
	s.processKillSwitchCommand(w, r, killswitch.CommandResume)
}

func (s *Server) processKillSwitchCommand(w http.ResponseWriter, r *http.Request, forceCommand killswitch.Command) {
	if s.kill == nil {
		writeError(w, http.StatusServiceUnavailable, "kill switch not configured")
		return
	}

	var env killswitch.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if forceCommand != "" {
		env.Command = forceCommand
	}

	result := s.kill.ProcessCommand(env, time.Now().UTC())
	if !result.Applied && !result.Replay {
		writeErrorJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.cfgLoader == nil {
		writeError(w, http.StatusServiceUnavailable, "config loader not configured")
		return
	}
	if err := s.cfgLoader.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}

	cfg := s.cfgLoader.Get()
	if s.reload != nil {
		if err := s.reload(cfg); err != nil {
			writeError(w, http.StatusInternalServerError, "reload callback failed: "+err.Error())
			return
		}
	}

	s.logger.Info("policy reload applied", "custom_checks", len(cfg.Policy.CustomChecks))
	writeJSON(w, map[string]any{"reloaded": true, "customChecks": len(cfg.Policy.CustomChecks)})
}

func (s *Server) handleCheckpointTrigger(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint runner not configured")
		return
	}

	var body struct {
		OrgID string    `json:"orgId"`
		Date  time.Time `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Date.IsZero() {
		body.Date = time.Now().UTC()
	}

	now := time.Now().UTC()
	if body.OrgID == "" {
		checkpoints, err := s.checkpoints.RunAll(body.Date, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "checkpoint run failed: "+err.Error())
			return
		}
		writeJSON(w, checkpoints)
		return
	}

	cp, err := s.checkpoints.Run(body.OrgID, body.Date, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "checkpoint run failed: "+err.Error())
		return
	}
	writeJSON(w, cp)
}

// handleEventAppend ingests one Governance Event: evaluated types are run
// through the Policy Bundle evaluator first, and only events that pass (or
// aren't evaluated types at all) reach the Event Store (spec.md §4.10).
func (s *Server) handleEventAppend(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}

	var evt eventstore.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if evt.OrgID == "" {
		writeError(w, http.StatusBadRequest, "orgId is required")
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	evt.ReceivedAt = now
	if evt.ProducedAt.IsZero() {
		evt.ProducedAt = now
	}

	hash, err := eventstore.ComputeHash(evt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash event: "+err.Error())
		return
	}
	evt.Hash = hash

	var evalResult *eventstore.EvalResult
	if s.evaluator != nil && eventstore.IsEvaluatedType(evt.Type) {
		evalResult, err = s.evaluator.Evaluate(evt.OrgID, evt, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "evaluation failed: "+err.Error())
			return
		}
		if evalResult != nil && !evalResult.Passed {
			writeErrorJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "event denied by policy bundle",
				"evaluation": evalResult,
			})
			return
		}
	}

	result, err := s.events.Append(evt.OrgID, evt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "append failed: "+err.Error())
		return
	}

	writeJSON(w, map[string]any{"id": evt.ID, "result": result, "evaluation": evalResult})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeErrorJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
