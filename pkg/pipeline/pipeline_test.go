package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-planar/internal/testimg"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/protocol"
	"github.com/teslashibe/go-planar/pkg/source"
	"gocv.io/x/gocv"
)

// sliceSource replays frames, then reports the end of the stream.
// A nil entry in errs at position i means frames[i] is returned.
type sliceSource struct {
	frames []gocv.Mat
	errs   []error
	next   int
	loop   bool
}

func (s *sliceSource) Read(dst *gocv.Mat) error {
	if s.next >= len(s.frames) {
		if !s.loop {
			return source.ErrEndOfStream
		}
		s.next = 0
	}
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return s.errs[i]
	}
	s.frames[i].CopyTo(dst)
	return nil
}

func (s *sliceSource) Name() string { return "test" }
func (s *sliceSource) Close() error { return nil }

// errSource always fails.
type errSource struct{ err error }

func (s errSource) Read(*gocv.Mat) error { return s.err }
func (s errSource) Name() string         { return "broken" }
func (s errSource) Close() error         { return nil }

type recorder struct {
	mu     sync.Mutex
	events []*protocol.Message
	frames [][]byte
}

func (r *recorder) PublishEvent(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
}

func (r *recorder) PublishFrame(jpeg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, jpeg)
}

func (r *recorder) types() []protocol.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MessageType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.JPEGQuality = 0
	cfg.Interval = -time.Second
	cfg.MaxConsecutiveErrors = -1
	assert.Len(t, cfg.Validate(), 3)
}

func TestNew_Invalid(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	_, err := New(nil, m, nil, DefaultConfig())
	assert.Error(t, err)
	_, err = New(&sliceSource{}, nil, nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.JPEGQuality = 101
	_, err = New(&sliceSource{}, m, nil, cfg)
	assert.Error(t, err)
}

func TestRun_NotReady(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	frame := testimg.Textured(160, 120, 1)
	defer frame.Close()
	src := &sliceSource{frames: []gocv.Mat{frame, frame, frame}}
	rec := &recorder{}

	r, err := New(src, m, rec, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.False(t, stats.Started.IsZero())

	require.Len(t, rec.events, 3)
	for _, e := range rec.events {
		miss, err := e.GetMissData()
		require.NoError(t, err)
		assert.Equal(t, "not_ready", miss.Reason)
	}
	assert.Len(t, rec.frames, 3, "misses still publish the frame")
}

func TestRun_Detects(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	ref := testimg.Textured(320, 240, 2)
	defer ref.Close()
	require.NoError(t, m.SetReference(ref))

	flat := testimg.Uniform(320, 240, 60)
	defer flat.Close()

	src := &sliceSource{frames: []gocv.Mat{ref, flat, ref}}
	rec := &recorder{}

	r, err := New(src, m, rec, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeDetection, protocol.TypeMiss, protocol.TypeDetection,
	}, rec.types())

	det, err := rec.events[0].GetDetectionData()
	require.NoError(t, err)
	info, _ := m.Reference()
	assert.Equal(t, uint64(1), det.FrameID)
	assert.Equal(t, info.ID, det.ReferenceID)
	assert.NotEmpty(t, det.ID)
	assert.Positive(t, det.Inliers)
	assert.InDelta(t, 320, det.Corners[2].X, 3)
	assert.InDelta(t, 240, det.Corners[2].Y, 3)

	miss, err := rec.events[1].GetMissData()
	require.NoError(t, err)
	assert.Equal(t, "no_matches", miss.Reason)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)

	// Published frames are decodable JPEGs.
	require.Len(t, rec.frames, 3)
	img, err := gocv.IMDecode(rec.frames[0], gocv.IMReadColor)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 320, img.Cols())
}

func TestRun_EmptyFrames(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	frame := testimg.Textured(160, 120, 3)
	defer frame.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	tests := []struct {
		name       string
		skipEmpty  bool
		wantFrames uint64
		wantEvents int
	}{
		{name: "skipped", skipEmpty: true, wantFrames: 1, wantEvents: 1},
		{name: "reported", skipEmpty: false, wantFrames: 2, wantEvents: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &sliceSource{frames: []gocv.Mat{empty, frame}}
			rec := &recorder{}
			cfg := DefaultConfig()
			cfg.SkipEmpty = tc.skipEmpty

			r, err := New(src, m, rec, cfg)
			require.NoError(t, err)
			require.NoError(t, r.Run(context.Background()))

			stats := r.Stats()
			assert.Equal(t, tc.wantFrames, stats.Frames)
			assert.Equal(t, uint64(1), stats.ReadErrors)
			assert.Len(t, rec.events, tc.wantEvents)
			if !tc.skipEmpty {
				miss, err := rec.events[0].GetMissData()
				require.NoError(t, err)
				assert.Equal(t, "empty_frame", miss.Reason)
			}
		})
	}
}

func TestRun_ReadErrorLimit(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	boom := errors.New("usb unplugged")
	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 3

	r, err := New(errSource{err: boom}, m, nil, cfg)
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(3), r.Stats().ReadErrors)
}

func TestRun_RecoversBetweenErrors(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	frame := testimg.Textured(160, 120, 4)
	defer frame.Close()
	boom := errors.New("timeout")

	src := &sliceSource{
		frames: []gocv.Mat{frame, frame, frame, frame},
		errs:   []error{boom, nil, boom, nil},
	}
	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 2

	r, err := New(src, m, nil, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, uint64(2), r.Stats().Frames)
	assert.Equal(t, uint64(2), r.Stats().ReadErrors)
}

func TestRun_ContextCancel(t *testing.T) {
	m := matcher.New()
	defer m.Close()

	frame := testimg.Textured(160, 120, 5)
	defer frame.Close()
	src := &sliceSource{frames: []gocv.Mat{frame}, loop: true}

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond

	r, err := New(src, m, nil, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	// Paced at 10ms, so roughly ten frames fit into 100ms.
	frames := r.Stats().Frames
	assert.Greater(t, frames, uint64(1))
	assert.Less(t, frames, uint64(30))
}

func TestStats_Rates(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Stats{Source: "device:0", Frames: 50, Hits: 20, Misses: 30, Started: start}

	now := start.Add(10 * time.Second)
	assert.InDelta(t, 0.4, s.HitRate(), 1e-9)
	assert.InDelta(t, 5.0, s.FPS(now), 1e-9)

	data := s.Data(now)
	assert.Equal(t, "device:0", data.Source)
	assert.InDelta(t, 10.0, data.UptimeSec, 1e-9)

	var zero Stats
	assert.Zero(t, zero.HitRate())
	assert.Zero(t, zero.FPS(now))
}

func TestEncodeJPEG(t *testing.T) {
	frame := testimg.Textured(64, 48, 6)
	defer frame.Close()

	data, err := EncodeJPEG(frame, 90)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}
