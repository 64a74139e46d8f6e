package emotion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const maxFrameSize = 16 * 1024 * 1024 // 16 MB

// SnapshotSource fetches a still image over HTTP on every Read, typically
// from an IP camera snapshot endpoint.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates an HTTP snapshot frame source.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	if timeout <= 0 {
		timeout = defaultDetectorTimeout
	}
	return &SnapshotSource{url: url, client: &http.Client{Timeout: timeout}}
}

// Read implements FrameSource.
func (s *SnapshotSource) Read(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("%w: snapshot status %d", ErrNoFrame, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return Frame{}, ErrNoFrame
	}
	return Frame{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// FileSource re-reads an image file on every Read. Useful when another
// process keeps overwriting the latest capture on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed frame source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Read implements FrameSource.
func (s *FileSource) Read(_ context.Context) (Frame, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Frame{}, fmt.Errorf("%w: %s", ErrNoFrame, s.path)
		}
		return Frame{}, fmt.Errorf("read frame file: %w", err)
	}
	return Frame{Data: data, ContentType: "image/jpeg", CapturedAt: time.Now().UTC()}, nil
}

// StaticSource returns the same frame forever.
type StaticSource struct {
	Frame Frame
}

// Read implements FrameSource.
func (s StaticSource) Read(_ context.Context) (Frame, error) {
	if len(s.Frame.Data) == 0 {
		return Frame{}, ErrNoFrame
	}
	f := s.Frame
	f.CapturedAt = time.Now().UTC()
	return f, nil
}
