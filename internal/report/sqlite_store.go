package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// SQLiteStore keeps reports in a single SQLite table. The full report is
// stored as a JSON body next to the columns used for listing.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer connection avoids SQLITE_BUSY between finishing workers
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS reports (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  ended_at TEXT NOT NULL,
  sample_count INTEGER NOT NULL,
  generated_at TEXT NOT NULL,
  body TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create reports table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) location(id string) string {
	return "sqlite://" + s.path + "#" + id
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r Report) (string, error) {
	if !ValidID(r.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	const stmt = `
INSERT INTO reports (id, started_at, ended_at, sample_count, generated_at, body)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, stmt,
		r.ID,
		r.Meta.StartedAt.UTC().Format(sqliteTimeLayout),
		r.Meta.EndedAt.UTC().Format(sqliteTimeLayout),
		r.Meta.SampleCount,
		r.GeneratedAt.UTC().Format(sqliteTimeLayout),
		string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrExists, r.ID)
	}
	return s.location(r.ID), nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Report{}, fmt.Errorf("query report: %w", err)
	}
	var r Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return r, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, sample_count FROM reports ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, ended string
		if err := rows.Scan(&e.ID, &started, &ended, &e.SampleCount); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		e.StartedAt, _ = time.Parse(sqliteTimeLayout, started)
		e.EndedAt, _ = time.Parse(sqliteTimeLayout, ended)
		e.Location = s.location(e.ID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
