package matcher

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ways a match can fail.
var (
	// ErrNotReady is returned when matching is attempted before a usable
	// reference has been set.
	ErrNotReady = errors.New("matcher: no reference set")

	// ErrEmptyImage is returned for a nil or zero-sized image.
	ErrEmptyImage = errors.New("matcher: empty image")

	// ErrMalformedImage is returned for pixel layouts that cannot be
	// converted to grayscale.
	ErrMalformedImage = errors.New("matcher: unsupported image format")

	// ErrNoKeypoints is returned when feature detection finds nothing in
	// the reference image.
	ErrNoKeypoints = errors.New("matcher: no keypoints in reference")

	// ErrNoSurvivors is returned when no match survives the ratio test.
	ErrNoSurvivors = errors.New("matcher: no matches survived ratio test")

	// ErrLowQuality is returned when the mean descriptor distance of the
	// surviving matches is above the quality threshold.
	ErrLowQuality = errors.New("matcher: match quality below threshold")

	// ErrGeometry is returned when no usable homography could be estimated.
	ErrGeometry = errors.New("matcher: homography estimation failed")

	// ErrInternal is returned when the native vision layer panics.
	ErrInternal = errors.New("matcher: internal vision error")

	// ErrClosed is returned when the matcher has been closed.
	ErrClosed = errors.New("matcher: closed")
)

// QualityError reports a rejected match together with its mean distance.
type QualityError struct {
	Mean float64
	Max  float64
}

// Error implements the error interface.
func (e *QualityError) Error() string {
	return fmt.Sprintf("matcher: mean distance %.2f exceeds %.2f", e.Mean, e.Max)
}

// Unwrap returns ErrLowQuality.
func (e *QualityError) Unwrap() error {
	return ErrLowQuality
}

// GeometryKind distinguishes homography failure modes.
type GeometryKind int

const (
	// GeometryTooFewPoints means fewer correspondences than a homography needs.
	GeometryTooFewPoints GeometryKind = iota
	// GeometryEstimationFailed means the solver returned no model.
	GeometryEstimationFailed
	// GeometryDegenerate means the model is singular, non-finite, or maps
	// the reference outline to a non-convex quad.
	GeometryDegenerate
)

func (k GeometryKind) String() string {
	switch k {
	case GeometryTooFewPoints:
		return "too_few_points"
	case GeometryEstimationFailed:
		return "estimation_failed"
	case GeometryDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// GeometryError describes why homography estimation was rejected.
type GeometryError struct {
	Kind   GeometryKind
	Detail string
}

// Error implements the error interface.
func (e *GeometryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("matcher: homography %s", e.Kind)
	}
	return fmt.Sprintf("matcher: homography %s: %s", e.Kind, e.Detail)
}

// Unwrap returns ErrGeometry.
func (e *GeometryError) Unwrap() error {
	return ErrGeometry
}

func geometryErr(kind GeometryKind, format string, args ...any) error {
	return &GeometryError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Reason maps a match error onto a short machine-readable label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrEmptyImage):
		return "empty_frame"
	case errors.Is(err, ErrMalformedImage):
		return "malformed_frame"
	case errors.Is(err, ErrNoKeypoints):
		return "no_features"
	case errors.Is(err, ErrNoSurvivors):
		return "no_matches"
	case errors.Is(err, ErrLowQuality):
		return "low_quality"
	case errors.Is(err, ErrGeometry):
		return "geometry"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
