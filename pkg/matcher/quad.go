package matcher

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Quad is a quadrilateral in scene coordinates, ordered top-left,
// top-right, bottom-right, bottom-left relative to the reference image.
type Quad [4]gocv.Point2f

// ReferenceCorners returns the outline of an image of the given size.
func ReferenceCorners(size image.Point) Quad {
	w := float32(size.X)
	h := float32(size.Y)
	return Quad{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	}
}

// Points rounds the corners to pixel coordinates.
func (q Quad) Points() []image.Point {
	pts := make([]image.Point, len(q))
	for i, p := range q {
		pts[i] = image.Pt(int(math.Round(float64(p.X))), int(math.Round(float64(p.Y))))
	}
	return pts
}

// Finite reports whether every coordinate is a finite number.
func (q Quad) Finite() bool {
	for _, p := range q {
		x, y := float64(p.X), float64(p.Y)
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return false
		}
	}
	return true
}

// Area returns the enclosed area (shoelace formula).
func (q Quad) Area() float64 {
	sum := 0.0
	for i := range q {
		a := q[i]
		b := q[(i+1)%len(q)]
		sum += float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
	}
	return math.Abs(sum) / 2
}

// IsConvex reports whether the quad is strictly convex. Collapsed and
// self-intersecting outlines are not.
func (q Quad) IsConvex() bool {
	sign := 0
	for i := range q {
		a := q[i]
		b := q[(i+1)%len(q)]
		c := q[(i+2)%len(q)]
		cross := float64(b.X-a.X)*float64(c.Y-b.Y) - float64(b.Y-a.Y)*float64(c.X-b.X)
		if cross == 0 {
			return false
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// Center returns the mean of the four corners.
func (q Quad) Center() gocv.Point2f {
	var x, y float32
	for _, p := range q {
		x += p.X
		y += p.Y
	}
	return gocv.Point2f{X: x / 4, Y: y / 4}
}

// Draw outlines the quad on frame in place.
func Draw(frame *gocv.Mat, q Quad, c color.RGBA, thickness int) {
	pts := q.Points()
	for i := range pts {
		gocv.Line(frame, pts[i], pts[(i+1)%len(pts)], c, thickness)
	}
}
