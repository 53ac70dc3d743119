package matcher

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func pair(best, second float64) []gocv.DMatch {
	return []gocv.DMatch{
		{QueryIdx: 0, TrainIdx: 0, Distance: best},
		{QueryIdx: 0, TrainIdx: 1, Distance: second},
	}
}

func TestRatioTest(t *testing.T) {
	tests := []struct {
		name  string
		knn   [][]gocv.DMatch
		ratio float64
		want  int
	}{
		{name: "empty", knn: nil, ratio: 0.75, want: 0},
		{name: "distinct best kept", knn: [][]gocv.DMatch{pair(10, 40)}, ratio: 0.75, want: 1},
		{name: "ambiguous dropped", knn: [][]gocv.DMatch{pair(30, 35)}, ratio: 0.75, want: 0},
		{name: "exactly at ratio dropped", knn: [][]gocv.DMatch{pair(30, 40)}, ratio: 0.75, want: 0},
		{name: "single candidate dropped", knn: [][]gocv.DMatch{{{Distance: 5}}}, ratio: 0.75, want: 0},
		{name: "no candidates dropped", knn: [][]gocv.DMatch{{}}, ratio: 0.75, want: 0},
		{
			name:  "mixed",
			knn:   [][]gocv.DMatch{pair(10, 40), pair(39, 40), pair(0, 12), {{Distance: 1}}},
			ratio: 0.75,
			want:  2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ratioTest(tc.knn, tc.ratio)
			if len(got) != tc.want {
				t.Errorf("ratioTest kept %d, want %d", len(got), tc.want)
			}
		})
	}
}

func TestMeanDistance_NoSurvivors(t *testing.T) {
	// Every pair fails the ratio test, so nothing reaches the mean.
	good := ratioTest([][]gocv.DMatch{pair(40, 41), pair(50, 50)}, 0.75)

	_, err := meanDistance(good)
	if !errors.Is(err, ErrNoSurvivors) {
		t.Fatalf("meanDistance error = %v, want ErrNoSurvivors", err)
	}
}

func TestMeanDistance(t *testing.T) {
	got, err := meanDistance([]gocv.DMatch{{Distance: 10}, {Distance: 20}, {Distance: 30}})
	if err != nil {
		t.Fatalf("meanDistance: %v", err)
	}
	if got != 20 {
		t.Errorf("meanDistance = %v, want 20", got)
	}
}

func TestCheckQuality(t *testing.T) {
	tests := []struct {
		mean float64
		ok   bool
	}{
		{mean: 0, ok: true},
		{mean: 34.9, ok: true},
		{mean: 35, ok: true},
		{mean: 35.01, ok: false},
		{mean: 80, ok: false},
	}

	for _, tc := range tests {
		err := checkQuality(tc.mean, 35)
		if (err == nil) != tc.ok {
			t.Errorf("checkQuality(%v) = %v, want ok=%v", tc.mean, err, tc.ok)
		}
		if err == nil {
			continue
		}
		var qe *QualityError
		if !errors.As(err, &qe) {
			t.Fatalf("expected *QualityError, got %T", err)
		}
		if qe.Mean != tc.mean || qe.Max != 35 {
			t.Errorf("QualityError = %+v", qe)
		}
		if !errors.Is(err, ErrLowQuality) {
			t.Error("QualityError should unwrap to ErrLowQuality")
		}
	}
}

// Raising the distance of every surviving match must never turn a
// rejected frame back into an accepted one.
func TestQualityGate_Monotonic(t *testing.T) {
	const max = 35.0

	accepted := true
	for offset := 0.0; offset <= 60; offset += 2.5 {
		knn := [][]gocv.DMatch{
			pair(5+offset, 200),
			pair(10+offset, 200),
			pair(15+offset, 200),
		}
		good := ratioTest(knn, 0.75)
		mean, err := meanDistance(good)
		if err != nil {
			t.Fatalf("offset %v: %v", offset, err)
		}
		ok := checkQuality(mean, max) == nil
		if ok && !accepted {
			t.Fatalf("offset %v: accepted again after rejection (mean %v)", offset, mean)
		}
		accepted = ok
	}
	if accepted {
		t.Error("gate never rejected")
	}
}

func TestCorrespondences(t *testing.T) {
	object := []gocv.KeyPoint{{X: 1, Y: 2}, {X: 3, Y: 4}}
	scene := []gocv.KeyPoint{{X: 10, Y: 20}}

	matches := []gocv.DMatch{
		{QueryIdx: 1, TrainIdx: 0, Distance: 7},
		{QueryIdx: 2, TrainIdx: 0, Distance: 1},  // object index out of range
		{QueryIdx: 0, TrainIdx: 5, Distance: 1},  // scene index out of range
		{QueryIdx: -1, TrainIdx: 0, Distance: 1}, // negative
	}

	got := correspondences(matches, object, scene)
	if len(got) != 1 {
		t.Fatalf("got %d correspondences, want 1", len(got))
	}
	want := Correspondence{
		Object:   gocv.Point2f{X: 3, Y: 4},
		Scene:    gocv.Point2f{X: 10, Y: 20},
		Distance: 7,
	}
	if got[0] != want {
		t.Errorf("correspondence = %+v, want %+v", got[0], want)
	}
}
