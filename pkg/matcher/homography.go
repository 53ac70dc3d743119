package matcher

import (
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// singularDet is the smallest |det| accepted for a normalised homography.
const singularDet = 1e-9

// Homography is a 3x3 projective transform from reference to scene
// coordinates.
type Homography struct {
	m *mat.Dense
}

// Identity returns the identity transform.
func Identity() Homography {
	return NewHomography([9]float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

// NewHomography builds a homography from row-major values.
func NewHomography(v [9]float64) Homography {
	data := make([]float64, 9)
	copy(data, v[:])
	return Homography{m: mat.NewDense(3, 3, data)}
}

// homographyFromMat copies a 3x3 CV_64F matrix returned by the solver.
func homographyFromMat(h gocv.Mat) (Homography, error) {
	if h.Empty() {
		return Homography{}, geometryErr(GeometryEstimationFailed, "solver returned no model")
	}
	if h.Rows() != 3 || h.Cols() != 3 {
		return Homography{}, geometryErr(GeometryEstimationFailed, "unexpected model shape %dx%d", h.Rows(), h.Cols())
	}

	var v [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	return NewHomography(v), nil
}

// Values returns the matrix in row-major order.
func (h Homography) Values() [9]float64 {
	var v [9]float64
	if h.m == nil {
		return v
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v[r*3+c] = h.m.At(r, c)
		}
	}
	return v
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	if h.m == nil {
		return 0
	}
	return mat.Det(h.m)
}

// Normalize scales the matrix so that h33 == 1 and rejects models that
// cannot describe a proper view of a plane.
func (h Homography) Normalize() (Homography, error) {
	if h.m == nil {
		return Homography{}, geometryErr(GeometryEstimationFailed, "empty model")
	}
	for _, v := range h.m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Homography{}, geometryErr(GeometryDegenerate, "non-finite coefficient")
		}
	}

	scale := h.m.At(2, 2)
	if math.Abs(scale) < singularDet {
		return Homography{}, geometryErr(GeometryDegenerate, "h33 is zero")
	}

	var n mat.Dense
	n.Scale(1/scale, h.m)
	out := Homography{m: &n}

	if det := out.Det(); math.Abs(det) < singularDet {
		return Homography{}, geometryErr(GeometryDegenerate, "singular (det=%.3g)", det)
	}
	return out, nil
}

// Project maps points through the homography. Points that land at
// infinity are returned as NaN.
func (h Homography) Project(pts []gocv.Point2f) []gocv.Point2f {
	if len(pts) == 0 || h.m == nil {
		return nil
	}

	// Homogeneous points as columns.
	src := mat.NewDense(3, len(pts), nil)
	for i, p := range pts {
		src.Set(0, i, float64(p.X))
		src.Set(1, i, float64(p.Y))
		src.Set(2, i, 1)
	}

	var dst mat.Dense
	dst.Mul(h.m, src)

	out := make([]gocv.Point2f, len(pts))
	for i := range pts {
		w := dst.At(2, i)
		if w == 0 {
			out[i] = gocv.Point2f{X: float32(math.NaN()), Y: float32(math.NaN())}
			continue
		}
		out[i] = gocv.Point2f{
			X: float32(dst.At(0, i) / w),
			Y: float32(dst.At(1, i) / w),
		}
	}
	return out
}

// toMat returns the homography as a 3x3 CV_64F Mat. Caller closes it.
func (h Homography) toMat() gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	v := h.Values()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, v[r*3+c])
		}
	}
	return m
}

// reprojectionError is the RMS distance between the projected object
// points and their scene matches, over the points selected by inliers.
// A nil inliers slice selects every point.
func reprojectionError(h Homography, corrs []Correspondence, inliers []bool) float64 {
	obj := make([]gocv.Point2f, 0, len(corrs))
	scene := make([]gocv.Point2f, 0, len(corrs))
	for i, c := range corrs {
		if inliers != nil && (i >= len(inliers) || !inliers[i]) {
			continue
		}
		obj = append(obj, c.Object)
		scene = append(scene, c.Scene)
	}
	if len(obj) == 0 {
		return 0
	}

	projected := h.Project(obj)
	sum := 0.0
	for i, p := range projected {
		dx := float64(p.X - scene[i].X)
		dy := float64(p.Y - scene[i].Y)
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(projected)))
}

// pointMat packs points into an Nx1 CV_32FC2 Mat. Caller closes it.
func pointMat(pts []gocv.Point2f) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetFloatAt(i, 0, p.X)
		m.SetFloatAt(i, 1, p.Y)
	}
	return m
}

// estimateHomography fits a RANSAC homography to the correspondences and
// returns it with the per-correspondence inlier mask.
func estimateHomography(corrs []Correspondence, cfg Config) (Homography, []bool, error) {
	if len(corrs) < cfg.MinCorrespondences {
		return Homography{}, nil, geometryErr(GeometryTooFewPoints,
			"%d correspondences, need %d", len(corrs), cfg.MinCorrespondences)
	}

	obj := make([]gocv.Point2f, len(corrs))
	scene := make([]gocv.Point2f, len(corrs))
	for i, c := range corrs {
		obj[i] = c.Object
		scene[i] = c.Scene
	}

	src := pointMat(obj)
	defer src.Close()
	dst := pointMat(scene)
	defer dst.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	hm := gocv.FindHomography(src, dst, gocv.HomographyMethodRANSAC,
		cfg.RansacThreshold, &mask, cfg.RansacMaxIters, cfg.RansacConfidence)
	defer hm.Close()

	h, err := homographyFromMat(hm)
	if err != nil {
		return Homography{}, nil, err
	}
	h, err = h.Normalize()
	if err != nil {
		return Homography{}, nil, err
	}

	var inliers []bool
	if !mask.Empty() && mask.Rows() == len(corrs) {
		inliers = make([]bool, len(corrs))
		for i := range inliers {
			inliers[i] = mask.GetUCharAt(i, 0) > 0
		}
	}
	return h, inliers, nil
}

// projectCorners maps the reference outline into scene space with the
// vision library's perspective transform.
func projectCorners(h Homography, size image.Point) (Quad, error) {
	corners := ReferenceCorners(size)

	src := pointMat(corners[:])
	defer src.Close()
	tm := h.toMat()
	defer tm.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.PerspectiveTransform(src, &dst, tm)
	if dst.Empty() || dst.Rows() != len(corners) {
		return Quad{}, geometryErr(GeometryEstimationFailed, "perspective transform returned no points")
	}

	var q Quad
	for i := range q {
		q[i] = gocv.Point2f{X: dst.GetFloatAt(i, 0), Y: dst.GetFloatAt(i, 1)}
	}
	if !q.Finite() {
		return Quad{}, geometryErr(GeometryDegenerate, "corner at infinity")
	}
	if !q.IsConvex() {
		return Quad{}, geometryErr(GeometryDegenerate, "projected outline is not convex")
	}
	return q, nil
}

func countInliers(inliers []bool) int {
	n := 0
	for _, in := range inliers {
		if in {
			n++
		}
	}
	return n
}
