package reference

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func patternImage(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.White)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.png")
	if err := imaging.Save(patternImage(120, 80), path); err != nil {
		t.Fatalf("save: %v", err)
	}

	m, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	if m.Cols() != 120 || m.Rows() != 80 {
		t.Errorf("size = %dx%d, want 120x80", m.Cols(), m.Rows())
	}
	if m.Channels() != 3 {
		t.Errorf("channels = %d, want 3", m.Channels())
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"), DefaultOptions())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDecode_Downscale(t *testing.T) {
	tests := []struct {
		name         string
		maxDimension int
		wantW, wantH int
	}{
		{name: "fits", maxDimension: 500, wantW: 400, wantH: 200},
		{name: "landscape", maxDimension: 100, wantW: 100, wantH: 50},
		{name: "disabled", maxDimension: 0, wantW: 400, wantH: 200},
	}

	data := encodePNG(t, patternImage(400, 200))

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Decode(data, Options{MaxDimension: tc.maxDimension})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			defer m.Close()

			if m.Cols() != tc.wantW || m.Rows() != tc.wantH {
				t.Errorf("size = %dx%d, want %dx%d", m.Cols(), m.Rows(), tc.wantW, tc.wantH)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	if _, err := Decode(nil, DefaultOptions()); !errors.Is(err, ErrEmptyData) {
		t.Errorf("Decode(nil) error = %v, want ErrEmptyData", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"), DefaultOptions())
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, ErrEmptyData) {
		t.Errorf("garbage should be a decode error, got %v", err)
	}
}

func TestPrepare_Nil(t *testing.T) {
	if _, err := Prepare(nil, DefaultOptions()); !errors.Is(err, ErrEmptyData) {
		t.Errorf("Prepare(nil) error = %v, want ErrEmptyData", err)
	}
}
