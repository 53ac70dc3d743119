package pipeline

import (
	"time"

	"github.com/teslashibe/go-planar/pkg/protocol"
)

// Stats is a snapshot of the runner counters.
type Stats struct {
	Source     string
	Frames     uint64 // Frames matched (plus empty frames when reported)
	Hits       uint64
	Misses     uint64
	ReadErrors uint64
	Started    time.Time // Zero before Run
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Source:     r.src.Name(),
		Frames:     r.frames.Load(),
		Hits:       r.hits.Load(),
		Misses:     r.misses.Load(),
		ReadErrors: r.readErrors.Load(),
	}
	if ns := r.started.Load(); ns != 0 {
		s.Started = time.Unix(0, ns)
	}
	return s
}

// HitRate is hits over frames, 0 when no frame has been processed.
func (s Stats) HitRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Frames)
}

// Uptime is the time since Run started.
func (s Stats) Uptime(now time.Time) time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return now.Sub(s.Started)
}

// FPS is the average processing rate since Run started.
func (s Stats) FPS(now time.Time) float64 {
	up := s.Uptime(now).Seconds()
	if up <= 0 {
		return 0
	}
	return float64(s.Frames) / up
}

// Data converts the snapshot into its wire form.
func (s Stats) Data(now time.Time) protocol.StatsData {
	return protocol.StatsData{
		Source:     s.Source,
		Frames:     s.Frames,
		Hits:       s.Hits,
		Misses:     s.Misses,
		ReadErrors: s.ReadErrors,
		HitRate:    s.HitRate(),
		FPS:        s.FPS(now),
		UptimeSec:  s.Uptime(now).Seconds(),
	}
}
