// Package watcher announces report files that appear in the reports
// directory, whichever process wrote them.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"goa.design/clue/log"

	"moodcam/internal/report"
)

const defaultDebounce = 500 * time.Millisecond

// ReportCallback is called once per newly created report.
type ReportCallback func(id string)

// ReportWatcher watches a reports directory with fsnotify.
type ReportWatcher struct {
	dir       string
	fsWatcher *fsnotify.Watcher
	callback  ReportCallback
	debounce  time.Duration

	mu      sync.Mutex
	seen    map[string]bool
	pending map[string]bool
}

// New starts watching dir. Reports already present are not announced.
func New(dir string, callback ReportCallback) (*ReportWatcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &ReportWatcher{
		dir:       dir,
		fsWatcher: fsW,
		callback:  callback,
		debounce:  defaultDebounce,
		seen:      ListReports(dir),
		pending:   make(map[string]bool),
	}
	return w, nil
}

// Run processes events until ctx is done, then releases the watcher. Bursts
// of events are coalesced over the debounce interval.
func (w *ReportWatcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.track(event.Name) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.flush()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Warn(ctx, log.KV{K: "msg", V: "report watcher"}, log.KV{K: "err", V: err.Error()})
		}
	}
}

// track records a candidate report file. It returns false for files that
// are not reports or were already announced.
func (w *ReportWatcher) track(path string) bool {
	id, ok := report.IDFromFilename(path)
	if !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[id] {
		return false
	}
	w.pending[id] = true
	return true
}

// flush announces pending reports whose file still exists.
func (w *ReportWatcher) flush() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		delete(w.pending, id)
		if _, err := os.Stat(filepath.Join(w.dir, id+".json")); err != nil {
			continue
		}
		w.seen[id] = true
		ids = append(ids, id)
	}
	w.mu.Unlock()

	sort.Strings(ids)
	if w.callback == nil {
		return
	}
	for _, id := range ids {
		w.callback(id)
	}
}

// ListReports returns the ids of the report files in dir.
func ListReports(dir string) map[string]bool {
	ids := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ids
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := report.IDFromFilename(e.Name()); ok {
			ids[id] = true
		}
	}
	return ids
}
