// Package matcher locates a planar reference image inside scene frames.
//
// A Matcher holds ORB keypoints and descriptors extracted from a reference
// image. Each scene frame is matched against them with a brute-force
// Hamming kNN search, filtered with Lowe's ratio test and a mean-distance
// quality gate, and the surviving correspondences are fed to a RANSAC
// homography. The reference outline projected through that homography is
// the detection.
package matcher

import (
	"fmt"
	"image/color"
)

// Config holds the detector and filtering parameters.
type Config struct {
	// Feature detection
	MaxFeatures int // ORB feature budget per image

	// Match filtering
	RatioThreshold  float64 // Lowe ratio: keep best if best < ratio*second
	MaxMeanDistance float64 // Reject when mean Hamming distance is above this

	// Homography
	MinCorrespondences int     // Points required before estimation is attempted
	RansacThreshold    float64 // Max reprojection error (px) for an inlier
	RansacMaxIters     int     // RANSAC iteration cap
	RansacConfidence   float64 // RANSAC confidence, 0-1

	// Overlay
	QuadColor     color.RGBA
	QuadThickness int
}

// DefaultConfig returns the fixed production parameters.
func DefaultConfig() Config {
	return Config{
		MaxFeatures: 400,

		RatioThreshold:  0.75,
		MaxMeanDistance: 35.0,

		MinCorrespondences: 4,
		RansacThreshold:    3.0,
		RansacMaxIters:     2000,
		RansacConfidence:   0.995,

		QuadColor:     color.RGBA{R: 0, G: 255, B: 0, A: 0},
		QuadThickness: 4,
	}
}

// Validate returns a list of problems with the configuration.
func (c Config) Validate() []string {
	var errs []string

	if c.MaxFeatures <= 0 {
		errs = append(errs, fmt.Sprintf("max_features must be positive, got %d", c.MaxFeatures))
	}
	if c.RatioThreshold <= 0 || c.RatioThreshold > 1 {
		errs = append(errs, fmt.Sprintf("ratio_threshold must be in (0, 1], got %v", c.RatioThreshold))
	}
	if c.MaxMeanDistance <= 0 {
		errs = append(errs, fmt.Sprintf("max_mean_distance must be positive, got %v", c.MaxMeanDistance))
	}
	// A homography has 8 degrees of freedom.
	if c.MinCorrespondences < 4 {
		errs = append(errs, fmt.Sprintf("min_correspondences must be at least 4, got %d", c.MinCorrespondences))
	}
	if c.RansacThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("ransac_threshold must be positive, got %v", c.RansacThreshold))
	}
	if c.RansacMaxIters <= 0 {
		errs = append(errs, fmt.Sprintf("ransac_max_iters must be positive, got %d", c.RansacMaxIters))
	}
	if c.RansacConfidence <= 0 || c.RansacConfidence >= 1 {
		errs = append(errs, fmt.Sprintf("ransac_confidence must be in (0, 1), got %v", c.RansacConfidence))
	}
	if c.QuadThickness <= 0 {
		errs = append(errs, fmt.Sprintf("quad_thickness must be positive, got %d", c.QuadThickness))
	}

	return errs
}
