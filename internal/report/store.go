package report

import (
	"context"
	"fmt"
)

// Store persists reports. Save is write-once per id: a second Save for the
// same id fails with ErrExists. Stored reports are immutable, so Load and
// List need no coordination with writers.
type Store interface {
	// Save persists r and returns the location it was written to.
	Save(ctx context.Context, r Report) (string, error)
	// Load returns the report for id or ErrNotFound.
	Load(ctx context.Context, id string) (Report, error)
	// List returns all stored reports, oldest first.
	List(ctx context.Context) ([]Entry, error)
	// Close releases resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open creates the store for the named backend.
func Open(backend, dir, sqlitePath string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown report store backend %q", backend)
	}
}
