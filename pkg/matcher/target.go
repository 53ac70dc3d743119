package matcher

import (
	"image"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Target is an immutable snapshot of a processed reference image.
type Target struct {
	id          uuid.UUID
	size        image.Point
	keypoints   []gocv.KeyPoint
	descriptors gocv.Mat
	loadedAt    time.Time
}

// TargetInfo describes the current reference.
type TargetInfo struct {
	ID        string    `json:"id"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Keypoints int       `json:"keypoints"`
	LoadedAt  time.Time `json:"loaded_at"`
}

func newTarget(size image.Point, kps []gocv.KeyPoint, desc gocv.Mat) *Target {
	return &Target{
		id:          uuid.New(),
		size:        size,
		keypoints:   kps,
		descriptors: desc,
		loadedAt:    time.Now(),
	}
}

// Info returns a copyable description of the target.
func (t *Target) Info() TargetInfo {
	return TargetInfo{
		ID:        t.id.String(),
		Width:     t.size.X,
		Height:    t.size.Y,
		Keypoints: len(t.keypoints),
		LoadedAt:  t.loadedAt,
	}
}

func (t *Target) close() {
	t.descriptors.Close()
}
