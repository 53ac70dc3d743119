// Package reference loads reference images for the matcher.
//
// Images are decoded with EXIF orientation applied, optionally downscaled
// so the longest side fits MaxDimension, and returned as 8-bit BGR Mats.
package reference

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// DefaultMaxDimension bounds the longest side of a loaded reference.
const DefaultMaxDimension = 1280

// ErrEmptyData is returned for zero-length input or a zero-sized image.
var ErrEmptyData = errors.New("reference: empty image data")

// Options controls how a reference is prepared.
type Options struct {
	MaxDimension int // Longest side in pixels; 0 keeps the original size
}

// DefaultOptions returns the options used by the commands.
func DefaultOptions() Options {
	return Options{MaxDimension: DefaultMaxDimension}
}

// Load reads the image at path. On error the returned Mat is the zero
// value and must not be closed.
func Load(path string, opts Options) (gocv.Mat, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("reference: open %s: %w", path, err)
	}
	return toMat(img, opts)
}

// Decode reads an encoded image (JPEG, PNG, GIF, BMP, TIFF) from data.
func Decode(data []byte, opts Options) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrEmptyData
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("reference: decode: %w", err)
	}
	return toMat(img, opts)
}

// Prepare applies opts to an already decoded image.
func Prepare(img image.Image, opts Options) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, ErrEmptyData
	}
	return toMat(img, opts)
}

func toMat(img image.Image, opts Options) (gocv.Mat, error) {
	b := img.Bounds()
	if b.Empty() {
		return gocv.Mat{}, ErrEmptyData
	}

	if limit := opts.MaxDimension; limit > 0 && (b.Dx() > limit || b.Dy() > limit) {
		img = imaging.Fit(img, limit, limit, imaging.Lanczos)
	}

	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("reference: convert: %w", err)
	}
	if m.Empty() {
		m.Close()
		return gocv.Mat{}, ErrEmptyData
	}
	return m, nil
}
