// Package journal keeps a small on-device log of emitted readings in a
// SQLite database, so a glance at the device shows what it reported
// without consulting the backend.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"doorwatch/internal/config"
)

// Entry is one journalled emission.
type Entry struct {
	ID       int64
	At       time.Time
	Category string
	Value    float64

	// Detail is the human name of the value, like ENTRY or OCCUPIED.
	Detail string
}

// Journal records emissions. A nil Journal is valid and records
// nothing, so callers need no enabled checks.
type Journal struct {
	db   *sql.DB
	keep int
}

// Open connects to the configured database. It returns nil when the
// journal is disabled.
func Open(cfg config.JournalConfig) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := cfg.DSN
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:doorwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, keep: cfg.Keep}, nil
}

// Init creates the schema.
func (j *Journal) Init(ctx context.Context) error {
	if j == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			category TEXT NOT NULL,
			value REAL NOT NULL,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emissions_ts ON emissions(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append records one emission and prunes the table to the configured
// row cap.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO emissions (ts, category, value, detail) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano),
		e.Category,
		e.Value,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if j.keep > 0 {
		_, err = j.db.ExecContext(ctx,
			`DELETE FROM emissions WHERE id NOT IN (SELECT id FROM emissions ORDER BY id DESC LIMIT ?)`,
			j.keep,
		)
		if err != nil {
			return fmt.Errorf("journal prune: %w", err)
		}
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if j == nil || n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, category, value, detail FROM emissions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Category, &e.Value, &e.Detail); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("journal row %d: %w", e.ID, err)
		}
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
