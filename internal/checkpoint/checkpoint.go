// Package checkpoint implements the Integrity Checkpoint: the daily,
// per-organisation fold of the event stream into a deterministic Merkle
// root (spec.md §4.9).
package checkpoint

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/agentwarden/agentcore/internal/eventstore"
	"github.com/agentwarden/agentcore/internal/merkle"
)

// VerifiedEventType is the event emitted after a checkpoint is computed.
const VerifiedEventType = "aigrc.audit.chain.verified"

// EventPublisher accepts a freshly computed verification event for
// persistence by the caller's own event pipeline.
type EventPublisher interface {
	Publish(orgID string, evt eventstore.Event) error
}

// Runner computes and persists one org-day's Integrity Checkpoint.
type Runner struct {
	events      eventstore.Store
	checkpoints eventstore.CheckpointStore
	publisher   EventPublisher
	logger      *slog.Logger
}

// NewRunner constructs a Runner. publisher may be nil, in which case no
// verification event is built or emitted; Run's returned Checkpoint still
// carries the root and event count.
func NewRunner(events eventstore.Store, checkpoints eventstore.CheckpointStore, publisher EventPublisher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{events: events, checkpoints: checkpoints, publisher: publisher, logger: logger.With("component", "checkpoint.Runner")}
}

// Run computes orgID's checkpoint for date (truncated to its UTC day),
// persists it, and — if a publisher is configured — emits the
// aigrc.audit.chain.verified event.
func (r *Runner) Run(orgID string, date time.Time, now time.Time) (eventstore.Checkpoint, error) {
	day := truncateToUTCDay(date)

	events, err := r.events.ListEventsForDate(orgID, day)
	if err != nil {
		return eventstore.Checkpoint{}, fmt.Errorf("failed to list events for %s on %s: %w", orgID, day.Format("2006-01-02"), err)
	}

	leaves := make([]string, len(events))
	for i, e := range events {
		leaves[i] = e.Hash
	}
	root := merkle.BuildTree(leaves)

	cp := eventstore.Checkpoint{OrgID: orgID, Date: day, MerkleRoot: root, EventCount: len(events), ComputedAt: now}
	if err := r.checkpoints.Upsert(cp); err != nil {
		return eventstore.Checkpoint{}, fmt.Errorf("failed to upsert checkpoint for %s on %s: %w", orgID, day.Format("2006-01-02"), err)
	}

	r.logger.Info("checkpoint computed", "org_id", orgID, "date", day.Format("2006-01-02"), "event_count", len(events), "merkle_root", root)

	if r.publisher != nil {
		evt := verificationEvent(orgID, day, cp, now)
		if err := r.publisher.Publish(orgID, evt); err != nil {
			r.logger.Error("failed to publish verification event", "org_id", orgID, "error", err)
			return cp, err
		}
	}

	return cp, nil
}

// RunAll computes date's checkpoint for every org with at least one event
// that day.
func (r *Runner) RunAll(date time.Time, now time.Time) ([]eventstore.Checkpoint, error) {
	day := truncateToUTCDay(date)
	orgs, err := r.events.OrgsWithEventsOnDate(day)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs with events on %s: %w", day.Format("2006-01-02"), err)
	}

	out := make([]eventstore.Checkpoint, 0, len(orgs))
	for _, org := range orgs {
		cp, err := r.Run(org, day, now)
		if err != nil {
			return out, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func verificationEvent(orgID string, day time.Time, cp eventstore.Checkpoint, now time.Time) eventstore.Event {
	auditID := fmt.Sprintf("checkpoint_%s_%s", orgID, day.Format("2006-01-02"))
	return eventstore.Event{
		ID:          auditID,
		SpecVersion: "1.0", SchemaVersion: "1.0",
		Type: VerifiedEventType, Category: "integrity", Criticality: eventstore.CriticalityMedium,
		OrgID: orgID, ProducedAt: now,
		Source: "agentcore.checkpoint",
		Data: map[string]any{
			"auditId":    auditID,
			"merkleRoot": cp.MerkleRoot,
			"eventCount": cp.EventCount,
			"verified":   true,
		},
	}
}

func truncateToUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
