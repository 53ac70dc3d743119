package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teslashibe/go-planar/internal/httpc"
	"gocv.io/x/gocv"
)

// Snapshot polls an HTTP endpoint that serves one encoded image per GET,
// as IP cameras and phone camera apps commonly do.
type Snapshot struct {
	url    string
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSnapshot creates a snapshot source for url.
func NewSnapshot(url string, cfg Config) (*Snapshot, error) {
	if !isHTTP(url) {
		return nil, fmt.Errorf("source: snapshot url must be http(s): %s", url)
	}

	client := httpc.Client
	if cfg.SnapshotTimeout > 0 && cfg.SnapshotTimeout != httpc.DefaultTimeout {
		client = httpc.NewClient(cfg.SnapshotTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Snapshot{url: url, client: client, ctx: ctx, cancel: cancel}, nil
}

// Read fetches and decodes one image into dst.
func (s *Snapshot) Read(dst *gocv.Mat) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	data, err := httpc.Fetch(s.ctx, s.client, s.url)
	if err != nil {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("source: snapshot: %w", err)
	}
	return decodeFrame(data, dst)
}

// Name returns the snapshot URL.
func (s *Snapshot) Name() string {
	return s.url
}

// Close aborts any in-flight request. Later reads return ErrClosed.
func (s *Snapshot) Close() error {
	s.cancel()
	return nil
}
