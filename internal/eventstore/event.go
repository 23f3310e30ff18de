// Package eventstore defines the Governance Event model, the Event Store,
// Checkpoint Store, and Policy Bundle Store interfaces (spec.md §4.10, §6),
// a SQLite-backed implementation, and the per-event policy evaluator.
package eventstore

import (
	"fmt"
	"time"

	"github.com/agentwarden/agentcore/internal/canon"
	"github.com/agentwarden/agentcore/internal/identity"
)

// Criticality classifies an event's severity.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Event is a Governance Event (spec.md §3): the unit persisted by the
// Event Store and folded into daily Merkle checkpoints.
type Event struct {
	ID            string      `json:"id"`
	SpecVersion   string      `json:"specVersion"`
	SchemaVersion string      `json:"schemaVersion"`
	Type          string      `json:"type"`
	Category      string      `json:"category"`
	Criticality   Criticality `json:"criticality"`
	OrgID         string      `json:"orgId"`
	AssetID       string      `json:"assetId"`
	ProducedAt    time.Time   `json:"producedAt"`
	ReceivedAt    time.Time   `json:"receivedAt"`
	Hash          string      `json:"hash"`
	PreviousHash  string      `json:"previousHash,omitempty"`
	Signature     string      `json:"signature,omitempty"`
	ParentEventID string      `json:"parentEventId,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`

	GoldenThread identity.GoldenThread `json:"goldenThread"`
	Source       string                `json:"source"`
	Data         map[string]any        `json:"data"`
}

// hashableFields mirrors Event but omits hash, receivedAt, and signature —
// the fields excluded from the canonical hash input (spec.md §3).
type hashableFields struct {
	ID            string                `json:"id"`
	SpecVersion   string                `json:"specVersion"`
	SchemaVersion string                `json:"schemaVersion"`
	Type          string                `json:"type"`
	Category      string                `json:"category"`
	Criticality   Criticality           `json:"criticality"`
	OrgID         string                `json:"orgId"`
	AssetID       string                `json:"assetId"`
	ProducedAt    time.Time             `json:"producedAt"`
	PreviousHash  string                `json:"previousHash,omitempty"`
	ParentEventID string                `json:"parentEventId,omitempty"`
	CorrelationID string                `json:"correlationId,omitempty"`
	GoldenThread  identity.GoldenThread `json:"goldenThread"`
	Source        string                `json:"source"`
	Data          map[string]any        `json:"data"`
}

// ComputeHash returns the sha256 "sha256:"-prefixed hash over e's canonical
// serialisation, excluding hash, receivedAt, and signature.
func ComputeHash(e Event) (string, error) {
	h := hashableFields{
		ID: e.ID, SpecVersion: e.SpecVersion, SchemaVersion: e.SchemaVersion,
		Type: e.Type, Category: e.Category, Criticality: e.Criticality,
		OrgID: e.OrgID, AssetID: e.AssetID, ProducedAt: e.ProducedAt,
		PreviousHash: e.PreviousHash, ParentEventID: e.ParentEventID,
		CorrelationID: e.CorrelationID, GoldenThread: e.GoldenThread,
		Source: e.Source, Data: e.Data,
	}
	hash, err := canon.Hash(h)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise event %s: %w", e.ID, err)
	}
	return hash, nil
}

// Filters narrows an EventStore.List query (spec.md §4.10).
type Filters struct {
	AssetID     string
	Type        string
	Criticality Criticality
	Since       *time.Time
	Limit       int // clamped to 100
	Offset      int
}

// AppendStatus is the outcome of one EventStore.Append call.
type AppendStatus string

const (
	AppendStatusAccepted AppendStatus = "accepted"
	AppendStatusRejected AppendStatus = "rejected"
)

// AppendResult is EventStore.Append's per-event outcome.
type AppendResult struct {
	Status     AppendStatus
	ReceivedAt time.Time
	IsNew      bool
	Error      string
}

// Store is the Event Store external collaborator (spec.md §6).
type Store interface {
	Append(orgID string, evt Event) (AppendResult, error)
	AppendBatch(orgID string, evts []Event) ([]AppendResult, error)
	FindByID(id string) (*Event, error)
	List(orgID string, filters Filters) ([]Event, error)
	ListEventsForDate(orgID string, date time.Time) ([]Event, error)
	OrgsWithEventsOnDate(date time.Time) ([]string, error)
}

// Checkpoint is one daily Integrity Checkpoint record (spec.md §4.9).
type Checkpoint struct {
	OrgID      string
	Date       time.Time // UTC midnight
	MerkleRoot string
	EventCount int
	ComputedAt time.Time
}

// CheckpointStore persists Integrity Checkpoints, idempotently keyed by
// (orgId, date) (spec.md §6).
type CheckpointStore interface {
	Upsert(cp Checkpoint) error
	Get(orgID string, date time.Time) (*Checkpoint, error)
}

// Rule is one Policy Bundle rule (spec.md §3).
type Rule struct {
	ID          string
	Name        string
	Severity    string // blocking | warning
	AppliesTo   []string
	Check       string // builtin check name
	Description string
	Remediation string
}

// Waiver exempts a rule from enforcement until ExpiresAt (spec.md §3).
type Waiver struct {
	RuleID    string
	WaivedBy  string
	ExpiresAt time.Time
	Reason    string
}

// ConformanceTarget is a Policy Bundle's declared conformance tier.
type ConformanceTarget string

const (
	ConformanceBronze ConformanceTarget = "BRONZE"
	ConformanceSilver ConformanceTarget = "SILVER"
	ConformanceGold   ConformanceTarget = "GOLD"
)

// Bundle is a Policy Bundle (spec.md §3).
type Bundle struct {
	ID                string
	OrgID             string
	Rules             []Rule
	ConformanceTarget ConformanceTarget
	Waivers           []Waiver
}

// BundleStore resolves an org's currently-active Policy Bundle (spec.md §6).
type BundleStore interface {
	GetActiveBundle(orgID string) (*Bundle, error)
}
