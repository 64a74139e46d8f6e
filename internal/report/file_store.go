package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const reportExt = ".json"

// FileStore keeps one JSON document per report in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("reports directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory reports are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file a report id maps to.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+reportExt)
}

// Save writes r to a hidden temporary file and links it into place. The link
// fails when the target exists, so a report can never be overwritten and
// readers never observe a partially written file.
func (s *FileStore) Save(_ context.Context, r Report) (string, error) {
	if !ValidID(r.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
	}
	target := s.Path(r.ID)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, r.ID)
	}

	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+r.ID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}

	if err := os.Link(tmpPath, target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, r.ID)
		}
		return "", fmt.Errorf("publish report: %w", err)
	}
	return target, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id string) (Report, error) {
	if !ValidID(id) {
		return Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	payload, err := os.ReadFile(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	if r.ID == "" {
		r.ID = id
	}
	return r, nil
}

// List implements Store. Files that fail to decode are skipped.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read reports dir: %w", err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		id, ok := IDFromFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		r, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r.entry(s.Path(id)))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// IDFromFilename returns the report id stored in a file name, skipping
// hidden and temporary files.
func IDFromFilename(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, reportExt) {
		return "", false
	}
	id := strings.TrimSuffix(base, reportExt)
	return id, ValidID(id)
}
