package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoFrames is returned when a frame directory holds no JPEG files.
var ErrNoFrames = errors.New("no JPEG frames found")

// DirSource replays a directory of JPEG files in lexical name order.
type DirSource struct {
	files  []string
	index  int
	closed bool
}

// OpenDir lists the .jpg and .jpeg files directly inside dir.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(files)

	return &DirSource{files: files}, nil
}

// Len returns the number of frames in the directory.
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next returns the next file's contents, or io.EOF after the last one.
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if s.closed {
		return Frame{}, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.index >= len(s.files) {
		return Frame{}, io.EOF
	}

	path := s.files[s.index]
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}

	f := Frame{Data: data, Index: int64(s.index), Timestamp: time.Now()}
	s.index++
	return f, nil
}

// Close marks the source closed.
func (s *DirSource) Close() error {
	s.closed = true
	return nil
}
