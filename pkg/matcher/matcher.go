package matcher

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-planar/internal/log"
	"gocv.io/x/gocv"
)

// Detection is a located reference in one scene frame.
type Detection struct {
	Corners           Quad
	Homography        Homography
	Matches           int           // Matches that survived the ratio test
	Inliers           int           // RANSAC inliers among those matches
	MeanDistance      float64       // Mean Hamming distance of surviving matches
	ReprojectionError float64       // RMS inlier reprojection error in pixels
	SceneKeypoints    int           // Keypoints found in the scene
	Elapsed           time.Duration // Time spent in Detect
}

// Matcher finds a reference image in scene frames.
//
// The reference is held as an immutable Target swapped atomically by
// SetReference. The ORB detector and the brute-force matcher are native
// objects that must not be used concurrently, so SetReference, Detect and
// Close are serialized.
type Matcher struct {
	cfg Config

	mu     sync.Mutex // Protects orb, bf and closed
	orb    gocv.ORB
	bf     gocv.BFMatcher
	closed bool

	target atomic.Pointer[Target]
}

// New creates a matcher with the default configuration.
func New() *Matcher {
	return newMatcher(DefaultConfig())
}

// NewWithConfig creates a matcher with a custom configuration.
func NewWithConfig(cfg Config) (*Matcher, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("matcher: invalid config: %s", strings.Join(errs, "; "))
	}
	return newMatcher(cfg), nil
}

func newMatcher(cfg Config) *Matcher {
	return &Matcher{
		cfg: cfg,
		orb: newORB(cfg),
		bf:  gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Ready reports whether a usable reference is set.
func (m *Matcher) Ready() bool {
	return m.target.Load() != nil
}

// Reference describes the current reference, if any.
func (m *Matcher) Reference() (TargetInfo, bool) {
	t := m.target.Load()
	if t == nil {
		return TargetInfo{}, false
	}
	return t.Info(), true
}

// SetReference extracts features from img and makes it the new reference.
// img may be grayscale, BGR or BGRA and is not modified.
//
// Any previous reference is dropped, even when img is unusable; on error
// the matcher is left not ready.
func (m *Matcher) SetReference(img gocv.Mat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if img.Empty() {
		log.Error("cannot read reference image", "err", ErrEmptyImage)
		m.swap(nil)
		return ErrEmptyImage
	}

	kps, desc, err := extract(&m.orb, img)
	if err != nil {
		log.Error("reference conversion failed", "err", err)
		m.swap(nil)
		return err
	}
	if len(kps) == 0 || desc.Empty() {
		desc.Close()
		log.Warn("reference has no features", "width", img.Cols(), "height", img.Rows())
		m.swap(nil)
		return ErrNoKeypoints
	}

	t := newTarget(image.Pt(img.Cols(), img.Rows()), kps, desc)
	m.swap(t)

	log.Info("reference set",
		"id", t.id,
		"width", t.size.X,
		"height", t.size.Y,
		"keypoints", len(kps))
	return nil
}

// swap installs t and releases the previous target. Callers hold mu.
func (m *Matcher) swap(t *Target) {
	if old := m.target.Swap(t); old != nil {
		old.close()
	}
}

// Detect locates the reference in scene without modifying it.
//
// Every failure is reported as an error wrapping one of the package
// sentinels: ErrNotReady, ErrEmptyImage, ErrMalformedImage, ErrNoSurvivors,
// ErrLowQuality (*QualityError), ErrGeometry (*GeometryError), ErrInternal.
func (m *Matcher) Detect(scene gocv.Mat) (det *Detection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			det = nil
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	if m.closed {
		return nil, ErrClosed
	}

	t := m.target.Load()
	if t == nil {
		return nil, ErrNotReady
	}
	if scene.Empty() {
		return nil, ErrEmptyImage
	}

	start := time.Now()

	kps, desc, err := extract(&m.orb, scene)
	if err != nil {
		return nil, err
	}
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() {
		return nil, fmt.Errorf("%w: no scene keypoints", ErrNoSurvivors)
	}

	knn := m.bf.KnnMatch(t.descriptors, desc, 2)
	good := ratioTest(knn, m.cfg.RatioThreshold)

	mean, err := meanDistance(good)
	if err != nil {
		return nil, err
	}
	if err := checkQuality(mean, m.cfg.MaxMeanDistance); err != nil {
		return nil, err
	}

	corrs := correspondences(good, t.keypoints, kps)
	h, inliers, err := estimateHomography(corrs, m.cfg)
	if err != nil {
		return nil, err
	}

	quad, err := projectCorners(h, t.size)
	if err != nil {
		return nil, err
	}

	return &Detection{
		Corners:           quad,
		Homography:        h,
		Matches:           len(good),
		Inliers:           countInliers(inliers),
		MeanDistance:      mean,
		ReprojectionError: reprojectionError(h, corrs, inliers),
		SceneKeypoints:    len(kps),
		Elapsed:           time.Since(start),
	}, nil
}

// Match locates the reference in scene and, on success, outlines it on
// scene in place and returns scene. Any failure yields (nil, false).
func (m *Matcher) Match(scene *gocv.Mat) (*gocv.Mat, bool) {
	if scene == nil {
		return nil, false
	}

	det, err := m.Detect(*scene)
	if err != nil {
		log.Debug("no match", "reason", Reason(err), "err", err)
		return nil, false
	}

	Draw(scene, det.Corners, m.cfg.QuadColor, m.cfg.QuadThickness)
	return scene, true
}

// Close releases the native detector, matcher and reference.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.swap(nil)
	m.orb.Close()
	m.bf.Close()
	return nil
}
