package matcher

import (
	"gocv.io/x/gocv"
)

// Correspondence pairs a reference point with the scene point it matched.
type Correspondence struct {
	Object   gocv.Point2f
	Scene    gocv.Point2f
	Distance float64
}

// ratioTest keeps the nearest neighbour of each kNN result when it is
// clearly closer than the runner-up. Results with fewer than two
// candidates are dropped.
func ratioTest(knn [][]gocv.DMatch, ratio float64) []gocv.DMatch {
	good := make([]gocv.DMatch, 0, len(knn))
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		if pair[0].Distance < ratio*pair[1].Distance {
			good = append(good, pair[0])
		}
	}
	return good
}

// meanDistance averages descriptor distances. An empty set has no mean.
func meanDistance(matches []gocv.DMatch) (float64, error) {
	if len(matches) == 0 {
		return 0, ErrNoSurvivors
	}
	sum := 0.0
	for _, m := range matches {
		sum += m.Distance
	}
	return sum / float64(len(matches)), nil
}

// checkQuality applies the mean-distance gate.
func checkQuality(mean, max float64) error {
	if mean > max {
		return &QualityError{Mean: mean, Max: max}
	}
	return nil
}

// correspondences resolves match indices against both keypoint sets.
// Matches pointing outside either set are skipped.
func correspondences(matches []gocv.DMatch, object, scene []gocv.KeyPoint) []Correspondence {
	out := make([]Correspondence, 0, len(matches))
	for _, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(object) {
			continue
		}
		if m.TrainIdx < 0 || m.TrainIdx >= len(scene) {
			continue
		}
		o := object[m.QueryIdx]
		s := scene[m.TrainIdx]
		out = append(out, Correspondence{
			Object:   gocv.Point2f{X: float32(o.X), Y: float32(o.Y)},
			Scene:    gocv.Point2f{X: float32(s.X), Y: float32(s.Y)},
			Distance: m.Distance,
		})
	}
	return out
}
