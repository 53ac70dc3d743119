package source

import (
	"fmt"
	"sync"

	"github.com/teslashibe/go-planar/internal/log"
	"gocv.io/x/gocv"
)

// Capture reads frames from a gocv.VideoCapture: a camera device, a video
// file, or a stream URL that OpenCV can open.
type Capture struct {
	name   string
	device bool

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	closed bool
}

// OpenDevice opens camera id and requests the mode in cfg.
func OpenDevice(id int, cfg Config) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("source: open device %d: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("source: device %d not available", id)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	c := &Capture{name: fmt.Sprintf("device:%d", id), device: true, vc: vc}
	log.Info("capture device opened",
		"device", id,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS))
	return c, nil
}

// OpenFile opens a video file or stream URL.
func OpenFile(uri string) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", uri, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("source: cannot open %s", uri)
	}

	log.Info("video opened", "uri", uri, "frames", vc.Get(gocv.VideoCaptureFrameCount))
	return &Capture{name: uri, vc: vc}, nil
}

// Read grabs the next frame. Files report ErrEndOfStream when exhausted;
// devices report ErrEmptyFrame when the driver returns nothing.
func (c *Capture) Read(dst *gocv.Mat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.vc.Read(dst) && !dst.Empty() {
		return nil
	}
	if c.device {
		return ErrEmptyFrame
	}
	return ErrEndOfStream
}

// Name returns "device:N" or the file/stream URI.
func (c *Capture) Name() string {
	return c.name
}

// Close releases the capture.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.vc.Close()
}
