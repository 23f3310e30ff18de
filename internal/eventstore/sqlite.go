package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// SQLiteStore implements Store, CheckpointStore, and BundleStore over a
// single SQLite file, adapted from the teacher's trace store schema and
// WAL-mode connection string.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a WAL-mode SQLite database at
// path and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id               TEXT NOT NULL,
		org_id           TEXT NOT NULL,
		spec_version     TEXT NOT NULL,
		schema_version   TEXT NOT NULL,
		type             TEXT NOT NULL,
		category         TEXT NOT NULL,
		criticality      TEXT NOT NULL,
		asset_id         TEXT NOT NULL,
		produced_at      DATETIME NOT NULL,
		received_at      DATETIME NOT NULL,
		hash             TEXT NOT NULL,
		previous_hash    TEXT,
		signature        TEXT,
		parent_event_id  TEXT,
		correlation_id   TEXT,
		golden_thread    TEXT NOT NULL,
		source           TEXT NOT NULL,
		data             TEXT,
		PRIMARY KEY (org_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_org_produced ON events(org_id, produced_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_org_date ON events(org_id, received_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		org_id      TEXT NOT NULL,
		date        TEXT NOT NULL,
		merkle_root TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		computed_at DATETIME NOT NULL,
		PRIMARY KEY (org_id, date)
	);

	CREATE TABLE IF NOT EXISTS policy_bundles (
		id                 TEXT PRIMARY KEY,
		org_id             TEXT NOT NULL,
		conformance_target TEXT,
		rules              TEXT NOT NULL,
		waivers            TEXT NOT NULL,
		active             INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_bundles_org_active ON policy_bundles(org_id, active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close shuts the store down.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append inserts evt for orgID, deduplicating on (org_id, id) — a replayed
// id is reported as accepted-but-not-new rather than an error.
func (s *SQLiteStore) Append(orgID string, evt Event) (AppendResult, error) {
	now := time.Now().UTC()
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	evt.OrgID = orgID
	evt.ReceivedAt = now

	var existingReceivedAt time.Time
	err := s.db.QueryRow(`SELECT received_at FROM events WHERE org_id = ? AND id = ?`, orgID, evt.ID).Scan(&existingReceivedAt)
	if err == nil {
		return AppendResult{Status: AppendStatusAccepted, ReceivedAt: existingReceivedAt, IsNew: false}, nil
	}
	if err != sql.ErrNoRows {
		return AppendResult{}, err
	}

	threadJSON, err := json.Marshal(evt.GoldenThread)
	if err != nil {
		return AppendResult{Status: AppendStatusRejected, Error: err.Error()}, nil
	}
	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return AppendResult{Status: AppendStatusRejected, Error: err.Error()}, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, org_id, spec_version, schema_version, type, category, criticality,
			asset_id, produced_at, received_at, hash, previous_hash, signature, parent_event_id,
			correlation_id, golden_thread, source, data)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		evt.ID, orgID, evt.SpecVersion, evt.SchemaVersion, evt.Type, evt.Category, string(evt.Criticality),
		evt.AssetID, evt.ProducedAt, evt.ReceivedAt, evt.Hash, nullableString(evt.PreviousHash),
		nullableString(evt.Signature), nullableString(evt.ParentEventID), nullableString(evt.CorrelationID),
		string(threadJSON), evt.Source, string(dataJSON),
	)
	if err != nil {
		return AppendResult{Status: AppendStatusRejected, Error: err.Error()}, nil
	}
	return AppendResult{Status: AppendStatusAccepted, ReceivedAt: now, IsNew: true}, nil
}

// AppendBatch appends each event independently; one rejection does not
// abort the rest (spec.md §5).
func (s *SQLiteStore) AppendBatch(orgID string, evts []Event) ([]AppendResult, error) {
	results := make([]AppendResult, len(evts))
	for i, e := range evts {
		r, err := s.Append(orgID, e)
		if err != nil {
			r = AppendResult{Status: AppendStatusRejected, Error: err.Error()}
		}
		results[i] = r
	}
	return results, nil
}

// FindByID returns the event with id, or nil if none exists.
func (s *SQLiteStore) FindByID(id string) (*Event, error) {
	row := s.db.QueryRow(`SELECT org_id, id, spec_version, schema_version, type, category, criticality,
		asset_id, produced_at, received_at, hash, previous_hash, signature, parent_event_id,
		correlation_id, golden_thread, source, data FROM events WHERE id = ?`, id)
	evt, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// List returns orgID's events ordered producedAt DESC, narrowed by filters.
func (s *SQLiteStore) List(orgID string, filters Filters) ([]Event, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT org_id, id, spec_version, schema_version, type, category, criticality,
		asset_id, produced_at, received_at, hash, previous_hash, signature, parent_event_id,
		correlation_id, golden_thread, source, data FROM events WHERE org_id = ?`
	args := []any{orgID}

	if filters.AssetID != "" {
		query += " AND asset_id = ?"
		args = append(args, filters.AssetID)
	}
	if filters.Type != "" {
		query += " AND type = ?"
		args = append(args, filters.Type)
	}
	if filters.Criticality != "" {
		query += " AND criticality = ?"
		args = append(args, string(filters.Criticality))
	}
	if filters.Since != nil {
		query += " AND produced_at >= ?"
		args = append(args, *filters.Since)
	}
	query += " ORDER BY produced_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filters.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsForDate returns orgID's events received on date (UTC day),
// ordered receivedAt ASC per the Integrity Checkpoint's fixed fold order.
func (s *SQLiteStore) ListEventsForDate(orgID string, date time.Time) ([]Event, error) {
	start, end := dayBounds(date)
	rows, err := s.db.Query(`SELECT org_id, id, spec_version, schema_version, type, category, criticality,
		asset_id, produced_at, received_at, hash, previous_hash, signature, parent_event_id,
		correlation_id, golden_thread, source, data
		FROM events WHERE org_id = ? AND received_at >= ? AND received_at < ?
		ORDER BY received_at ASC, id ASC`, orgID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// OrgsWithEventsOnDate returns every org with at least one event received
// on date.
func (s *SQLiteStore) OrgsWithEventsOnDate(date time.Time) ([]string, error) {
	start, end := dayBounds(date)
	rows, err := s.db.Query(`SELECT DISTINCT org_id FROM events WHERE received_at >= ? AND received_at < ?`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// Upsert stores cp, keyed idempotently by (orgId, date).
func (s *SQLiteStore) Upsert(cp Checkpoint) error {
	dateKey := cp.Date.UTC().Format("2006-01-02")
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (org_id, date, merkle_root, event_count, computed_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(org_id, date) DO UPDATE SET merkle_root=excluded.merkle_root,
			event_count=excluded.event_count, computed_at=excluded.computed_at`,
		cp.OrgID, dateKey, cp.MerkleRoot, cp.EventCount, cp.ComputedAt)
	return err
}

// Get returns the checkpoint for (orgID, date), or nil if none exists.
func (s *SQLiteStore) Get(orgID string, date time.Time) (*Checkpoint, error) {
	dateKey := date.UTC().Format("2006-01-02")
	row := s.db.QueryRow(`SELECT org_id, date, merkle_root, event_count, computed_at
		FROM checkpoints WHERE org_id = ? AND date = ?`, orgID, dateKey)

	var cp Checkpoint
	var dateStr string
	if err := row.Scan(&cp.OrgID, &dateStr, &cp.MerkleRoot, &cp.EventCount, &cp.ComputedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, err
	}
	cp.Date = parsed
	return &cp, nil
}

// GetActiveBundle returns orgID's currently-active Policy Bundle, or nil.
func (s *SQLiteStore) GetActiveBundle(orgID string) (*Bundle, error) {
	row := s.db.QueryRow(`SELECT id, org_id, conformance_target, rules, waivers
		FROM policy_bundles WHERE org_id = ? AND active = 1 LIMIT 1`, orgID)

	var b Bundle
	var conformance sql.NullString
	var rulesJSON, waiversJSON string
	if err := row.Scan(&b.ID, &b.OrgID, &conformance, &rulesJSON, &waiversJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if conformance.Valid {
		b.ConformanceTarget = ConformanceTarget(conformance.String)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &b.Rules); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(waiversJSON), &b.Waivers); err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBundle installs bundle as orgID's sole active bundle, deactivating any
// prior active bundle for that org.
func (s *SQLiteStore) PutBundle(b Bundle) error {
	rulesJSON, err := json.Marshal(b.Rules)
	if err != nil {
		return err
	}
	waiversJSON, err := json.Marshal(b.Waivers)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE policy_bundles SET active = 0 WHERE org_id = ?`, b.OrgID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO policy_bundles (id, org_id, conformance_target, rules, waivers, active)
		VALUES (?,?,?,?,?,1)
		ON CONFLICT(id) DO UPDATE SET conformance_target=excluded.conformance_target,
			rules=excluded.rules, waivers=excluded.waivers, active=1`,
		b.ID, b.OrgID, string(b.ConformanceTarget), string(rulesJSON), string(waiversJSON)); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var previousHash, signature, parentEventID, correlationID sql.NullString
	var threadJSON, dataJSON string
	var criticality string

	err := row.Scan(&e.OrgID, &e.ID, &e.SpecVersion, &e.SchemaVersion, &e.Type, &e.Category, &criticality,
		&e.AssetID, &e.ProducedAt, &e.ReceivedAt, &e.Hash, &previousHash, &signature, &parentEventID,
		&correlationID, &threadJSON, &e.Source, &dataJSON)
	if err != nil {
		return nil, err
	}
	e.Criticality = Criticality(criticality)
	e.PreviousHash = previousHash.String
	e.Signature = signature.String
	e.ParentEventID = parentEventID.String
	e.CorrelationID = correlationID.String
	if err := json.Unmarshal([]byte(threadJSON), &e.GoldenThread); err != nil {
		return nil, err
	}
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func dayBounds(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
