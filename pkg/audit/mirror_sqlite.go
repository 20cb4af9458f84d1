package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quayside-labs/keel/pkg/policy"

	_ "modernc.org/sqlite"
)

// Mirror is an indexed read replica of the chain in SQLite, for
// compliance tooling that wants ad-hoc queries without scanning
// segment files. The JSONL chain remains the source of truth; the
// mirror carries the stored hashes so a row can always be checked
// against the chain, and it is rebuildable from the segments at any
// time.
type Mirror struct {
	db *sql.DB
}

// NewMirror opens (or creates) a mirror database at path.
func NewMirror(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open mirror: %w", err)
	}
	m := &Mirror{db: db}
	if err := m.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		session_id TEXT,
		operation_id TEXT,
		classification TEXT,
		provider TEXT,
		channel TEXT,
		allowed INTEGER NOT NULL,
		success INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		violations JSON,
		warnings JSON,
		decision_hash TEXT,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_operation ON audit_events(operation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);`
	_, err := m.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("audit: migrate mirror: %w", err)
	}
	return nil
}

// Insert stores one event row. Used as an OnAppend handler target and
// by Rebuild.
func (m *Mirror) Insert(ctx context.Context, e *Event) error {
	violations, _ := json.Marshal(e.Violations)
	warnings, _ := json.Marshal(e.Warnings)

	query := `INSERT OR REPLACE INTO audit_events (
		id, sequence, timestamp, actor_id, session_id, operation_id,
		classification, provider, channel, allowed, success, duration_ns,
		violations, warnings, decision_hash, prev_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := m.db.ExecContext(ctx, query,
		e.ID, e.Sequence, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ActorID, e.SessionID, e.OperationID,
		string(e.Classification), e.Provider, e.Channel,
		boolInt(e.Allowed), boolInt(e.Success), int64(e.Duration),
		string(violations), string(warnings), e.DecisionHash, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("audit: mirror insert: %w", err)
	}
	return nil
}

// Attach registers the mirror on a log so every future append is
// reflected. A failed mirror insert is logged on the log's logger and
// never blocks the chain write, which has already happened; the mirror
// can be caught up later with Rebuild.
func (m *Mirror) Attach(l *Log) {
	l.OnAppend(func(e *Event) {
		if err := m.Insert(context.Background(), e); err != nil {
			l.logger.Warn("mirror insert failed", "event_id", e.ID, "error", err)
		}
	})
}

// Rebuild repopulates the mirror from the segment files.
func (m *Mirror) Rebuild(ctx context.Context, dir string) error {
	events, err := QueryDir(dir, Filter{})
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := m.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// CountByTier returns event counts grouped by classification, a shape
// compliance reviews ask for constantly.
func (m *Mirror) CountByTier(ctx context.Context) (map[policy.Tier]int64, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT classification, COUNT(*) FROM audit_events GROUP BY classification`)
	if err != nil {
		return nil, fmt.Errorf("audit: mirror count: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[policy.Tier]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		out[policy.Tier(tier)] = n
	}
	return out, rows.Err()
}

// Denials returns the most recent denied events, newest first.
func (m *Mirror) Denials(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, sequence, timestamp, actor_id, session_id, operation_id,
		       classification, provider, channel, allowed, success, duration_ns,
		       violations, warnings, decision_hash, prev_hash, hash
		FROM audit_events WHERE allowed = 0
		ORDER BY sequence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: mirror denials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the mirror database.
func (m *Mirror) Close() error { return m.db.Close() }

func scanEventRow(rows *sql.Rows) (*Event, error) {
	var (
		e                    Event
		ts                   string
		classification       string
		allowed, success     int
		durationNS           int64
		violations, warnings string
	)
	if err := rows.Scan(&e.ID, &e.Sequence, &ts, &e.ActorID, &e.SessionID,
		&e.OperationID, &classification, &e.Provider, &e.Channel,
		&allowed, &success, &durationNS, &violations, &warnings,
		&e.DecisionHash, &e.PrevHash, &e.Hash); err != nil {
		return nil, fmt.Errorf("audit: mirror scan: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("audit: mirror timestamp: %w", err)
	}
	e.Timestamp = t
	e.Classification = policy.Tier(classification)
	e.Allowed = allowed != 0
	e.Success = success != 0
	e.Duration = time.Duration(durationNS)
	_ = json.Unmarshal([]byte(violations), &e.Violations)
	_ = json.Unmarshal([]byte(warnings), &e.Warnings)
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
