package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Images reads still images from a directory in lexical order.
type Images struct {
	dir   string
	files []string
	loop  bool

	mu     sync.Mutex
	next   int
	closed bool
}

// OpenImages lists the .jpg, .jpeg, .png and .bmp files in dir.
func OpenImages(dir string, loop bool) (*Images, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: read dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := imageExts[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("source: no images in %s", dir)
	}
	sort.Strings(files)

	return &Images{dir: dir, files: files, loop: loop}, nil
}

// Read loads the next image into dst. Unreadable files are skipped with
// ErrEmptyFrame so the caller can keep going.
func (s *Images) Read(dst *gocv.Mat) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return ErrEndOfStream
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyFrame, path)
	}
	img.CopyTo(dst)
	return nil
}

// Len returns the number of images found.
func (s *Images) Len() int {
	return len(s.files)
}

// Name returns the directory path.
func (s *Images) Name() string {
	return s.dir
}

// Close stops further reads.
func (s *Images) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
