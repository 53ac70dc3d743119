// Package source provides the frame sources the detector reads from:
// capture devices, video files and streams, HTTP snapshot endpoints,
// WebRTC producers and directories of still images.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

var (
	// ErrEndOfStream is returned by finite sources once every frame has
	// been read.
	ErrEndOfStream = errors.New("source: end of stream")

	// ErrEmptyFrame is returned when a frame was read but holds no pixels.
	ErrEmptyFrame = errors.New("source: empty frame")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("source: closed")
)

// Source yields BGR frames.
type Source interface {
	// Read stores the next frame in dst.
	Read(dst *gocv.Mat) error
	// Name describes the source for logs and the dashboard.
	Name() string
	Close() error
}

// Open picks a source for uri:
//
//	"0", "1", ...                  capture device index
//	http(s)://host/snap.jpg        Snapshot (also any URL when cfg.Snapshot)
//	webrtc://host[:port]?producer= WebRTC via a webrtcsink signalling server
//	/path/to/dir                   Images
//	anything else                  Capture (video file or stream URL)
func Open(uri string, cfg Config) (Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("source: invalid config: %s", strings.Join(errs, "; "))
	}
	if uri == "" {
		return nil, errors.New("source: empty uri")
	}

	if id, err := strconv.Atoi(uri); err == nil {
		return OpenDevice(id, cfg)
	}

	if strings.HasPrefix(uri, webrtcScheme+"://") {
		return OpenWebRTC(uri, cfg)
	}

	if isHTTP(uri) && (cfg.Snapshot || isStillImage(uri)) {
		return NewSnapshot(uri, cfg)
	}

	if info, err := os.Stat(uri); err == nil && info.IsDir() {
		return OpenImages(uri, cfg.Loop)
	}

	return OpenFile(uri)
}

func isHTTP(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// isStillImage reports whether the path part of uri names a still image.
func isStillImage(uri string) bool {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	_, ok := imageExts[strings.ToLower(filepath.Ext(uri))]
	return ok
}

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
}

// decodeFrame decodes an encoded still image into dst.
func decodeFrame(data []byte, dst *gocv.Mat) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("source: decode: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return fmt.Errorf("%w: undecodable image (%d bytes)", ErrEmptyFrame, len(data))
	}
	img.CopyTo(dst)
	return nil
}
