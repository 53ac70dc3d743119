// Package testimg builds deterministic images for tests.
package testimg

import (
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"
)

// Textured draws a feature-rich BGR image. The same seed always yields
// the same pixels. Caller closes the Mat.
func Textured(w, h int, seed int64) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), h, w, gocv.MatTypeCV8UC3)
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < 80; i++ {
		c := color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
		}
		x, y := rng.Intn(w), rng.Intn(h)
		switch i % 3 {
		case 0:
			gocv.Rectangle(&img, image.Rect(x, y, x+8+rng.Intn(40), y+8+rng.Intn(40)), c, -1)
		case 1:
			gocv.Circle(&img, image.Pt(x, y), 4+rng.Intn(20), c, -1)
		default:
			gocv.Line(&img, image.Pt(x, y), image.Pt(rng.Intn(w), rng.Intn(h)), c, 2)
		}
	}
	gocv.PutText(&img, "PLANAR", image.Pt(w/8, h/2), gocv.FontHersheySimplex, 1.2, color.RGBA{}, 3)
	return img
}

// Uniform returns a BGR image filled with gray level v.
func Uniform(w, h int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

// Encode returns img encoded with ext (gocv.PNGFileExt, gocv.JPEGFileExt).
func Encode(img gocv.Mat, ext gocv.FileExt) ([]byte, error) {
	buf, err := gocv.IMEncode(ext, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// CountDiff returns the number of pixels that differ between a and b.
func CountDiff(a, b gocv.Mat) int {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	gray := gocv.NewMat()
	defer gray.Close()
	if diff.Channels() > 1 {
		gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray)
	} else {
		diff.CopyTo(&gray)
	}
	return gocv.CountNonZero(gray)
}
