// Package pipeline runs the capture loop: read a frame, look for the
// reference, outline it, and hand the result to a Publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-planar/internal/log"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/protocol"
	"github.com/teslashibe/go-planar/pkg/source"
	"gocv.io/x/gocv"
)

// Publisher receives pipeline output. Implementations must not block.
type Publisher interface {
	PublishEvent(msg *protocol.Message)
	PublishFrame(jpeg []byte)
}

// Config holds loop settings.
type Config struct {
	Interval             time.Duration // Minimum time between frames, 0 for as fast as possible
	JPEGQuality          int           // Quality of published frames, 1-100
	SkipEmpty            bool          // Drop empty frames silently instead of reporting a miss
	MaxConsecutiveErrors int           // Stop after this many read errors in a row, 0 to never stop
}

// DefaultConfig returns the settings used by cmd/planar.
func DefaultConfig() Config {
	return Config{
		Interval:             0,
		JPEGQuality:          80,
		SkipEmpty:            true,
		MaxConsecutiveErrors: 50,
	}
}

// Validate returns a list of problems with the configuration.
func (c Config) Validate() []string {
	var errs []string
	if c.Interval < 0 {
		errs = append(errs, "interval must not be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Sprintf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality))
	}
	if c.MaxConsecutiveErrors < 0 {
		errs = append(errs, "max_consecutive_errors must not be negative")
	}
	return errs
}

// Runner drives one source through one matcher. Run is not reentrant.
type Runner struct {
	src source.Source
	m   *matcher.Matcher
	pub Publisher
	cfg Config

	frames     atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	readErrors atomic.Uint64
	started    atomic.Int64 // Unix nanoseconds, 0 before Run
}

// New creates a runner. pub may be nil.
func New(src source.Source, m *matcher.Matcher, pub Publisher, cfg Config) (*Runner, error) {
	if src == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if m == nil {
		return nil, errors.New("pipeline: nil matcher")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("pipeline: invalid config: %s", strings.Join(errs, "; "))
	}
	return &Runner{src: src, m: m, pub: pub, cfg: cfg}, nil
}

// Run processes frames until ctx is done or the source ends. Both are a
// normal stop and return nil. Too many consecutive read errors are
// returned as an error.
func (r *Runner) Run(ctx context.Context) error {
	r.started.Store(time.Now().UnixNano())

	logger := log.With("source", r.src.Name())
	logger.Info("pipeline started", "interval", r.cfg.Interval)
	defer func() {
		s := r.Stats()
		logger.Info("pipeline stopped", "frames", s.Frames, "hits", s.Hits, "misses", s.Misses)
	}()

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	frame := gocv.NewMat()
	defer frame.Close()

	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := r.src.Read(&frame)
		if err == nil && frame.Empty() {
			err = source.ErrEmptyFrame
		}

		switch {
		case err == nil:
			consecutive = 0
			r.process(&frame)

		case errors.Is(err, source.ErrEndOfStream), errors.Is(err, source.ErrClosed):
			logger.Info("source finished")
			return nil

		default:
			r.readErrors.Add(1)
			consecutive++

			if errors.Is(err, source.ErrEmptyFrame) {
				if !r.cfg.SkipEmpty {
					id := r.frames.Add(1)
					r.misses.Add(1)
					r.publish(protocol.NewMissMessage(id, "empty_frame", err.Error()))
				}
			} else {
				logger.Warn("frame read failed", "err", err, "consecutive", consecutive)
			}

			if limit := r.cfg.MaxConsecutiveErrors; limit > 0 && consecutive >= limit {
				return fmt.Errorf("pipeline: %d consecutive read errors: %w", consecutive, err)
			}
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
}

// process matches one frame, outlines a hit in place and publishes the
// event and the frame.
func (r *Runner) process(frame *gocv.Mat) {
	id := r.frames.Add(1)

	det, err := r.m.Detect(*frame)
	if err != nil {
		r.misses.Add(1)
		reason := matcher.Reason(err)
		log.Debug("no match", "frame", id, "reason", reason, "err", err)
		r.publish(protocol.NewMissMessage(id, reason, err.Error()))
	} else {
		r.hits.Add(1)
		cfg := r.m.Config()
		matcher.Draw(frame, det.Corners, cfg.QuadColor, cfg.QuadThickness)

		var refID string
		if info, ok := r.m.Reference(); ok {
			refID = info.ID
		}
		log.Debug("match", "frame", id, "matches", det.Matches, "inliers", det.Inliers,
			"mean_distance", det.MeanDistance)
		r.publish(protocol.NewDetectionMessage(DetectionData(id, refID, det)))
	}

	if r.pub == nil {
		return
	}
	data, err := EncodeJPEG(*frame, r.cfg.JPEGQuality)
	if err != nil {
		log.Warn("frame encode failed", "frame", id, "err", err)
		return
	}
	r.pub.PublishFrame(data)
}

func (r *Runner) publish(msg *protocol.Message, err error) {
	if err != nil {
		log.Error("event encode failed", "err", err)
		return
	}
	if r.pub != nil {
		r.pub.PublishEvent(msg)
	}
}

// DetectionData converts a detection into its wire form.
func DetectionData(frameID uint64, refID string, det *matcher.Detection) protocol.DetectionData {
	d := protocol.DetectionData{
		ID:                uuid.NewString(),
		FrameID:           frameID,
		ReferenceID:       refID,
		Matches:           det.Matches,
		Inliers:           det.Inliers,
		SceneKeypoints:    det.SceneKeypoints,
		MeanDistance:      det.MeanDistance,
		ReprojectionError: det.ReprojectionError,
		ElapsedMs:         float64(det.Elapsed.Microseconds()) / 1000,
	}
	for i, p := range det.Corners {
		d.Corners[i] = protocol.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return d
}

// EncodeJPEG encodes frame at the given quality.
func EncodeJPEG(frame gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
