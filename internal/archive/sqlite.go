// Package archive persists observed envelopes to SQLite for post-hoc
// inspection. It is purely additive: entity reconstruction never reads
// from the archive.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

// SQLiteArchive implements the envelope archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (or creates) the archive database.
func NewSQLiteArchive(dsn string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return a, nil
}

// migrate runs database migrations.
func (a *SQLiteArchive) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS envelopes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			universe_id TEXT,
			agent_id TEXT,
			agent_name TEXT,
			ts DATETIME,
			payload TEXT,
			redacted INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_envelopes_universe ON envelopes(universe_id, id)`,
	}

	for _, m := range migrations {
		if _, err := a.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append records an envelope. When redacted is true the payload is dropped
// and only the routing fields are kept.
func (a *SQLiteArchive) Append(ctx context.Context, env *event.Envelope, redacted bool) error {
	payload := string(env.Data)
	if redacted {
		payload = ""
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO envelopes (type, universe_id, agent_id, agent_name, ts, payload, redacted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(env.Type), env.UniverseID, env.AgentID, env.AgentName,
		env.Timestamp, payload, boolToInt(redacted),
	)
	if err != nil {
		return fmt.Errorf("failed to append envelope: %w", err)
	}
	return nil
}

// ArchivedEnvelope is one retained row.
type ArchivedEnvelope struct {
	ID       int64
	Envelope *event.Envelope
	Redacted bool
}

// ListByUniverse returns up to limit archived envelopes for a universe in
// arrival order.
func (a *SQLiteArchive) ListByUniverse(ctx context.Context, universeID string, limit int) ([]*ArchivedEnvelope, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, type, universe_id, agent_id, agent_name, ts, payload, redacted
		 FROM envelopes WHERE universe_id = ? ORDER BY id ASC LIMIT ?`,
		universeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query envelopes: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedEnvelope
	for rows.Next() {
		var (
			rec      ArchivedEnvelope
			env      event.Envelope
			evType   string
			ts       sql.NullTime
			payload  sql.NullString
			redacted int
		)
		if err := rows.Scan(&rec.ID, &evType, &env.UniverseID, &env.AgentID, &env.AgentName, &ts, &payload, &redacted); err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		env.Type = event.Type(evType)
		if ts.Valid {
			env.Timestamp = ts.Time
		}
		if payload.Valid && payload.String != "" {
			env.Data = json.RawMessage(payload.String)
		}
		rec.Envelope = &env
		rec.Redacted = redacted != 0
		out = append(out, &rec)
	}

	return out, rows.Err()
}

// Count returns the total number of archived envelopes.
func (a *SQLiteArchive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count envelopes: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
