package capture

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
)

// DirSource replays the *.jpg/*.jpeg/*.png files of a directory in sorted
// name order. It is the deterministic source: the same directory always
// yields the same frame sequence, which is what the tests rely on.
type DirSource struct {
	paths []string
	pos   int
}

// OpenDir lists the image files under dir. An empty directory is an error
// since a session over zero frames is almost certainly a mistyped path.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read frame dir %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no image files found in %s", dir)
	}
	sort.Strings(paths)

	return &DirSource{paths: paths}, nil
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.paths) {
		return Frame{}, io.EOF
	}

	path := s.paths[s.pos]
	s.pos++

	file, err := os.Open(path)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "failed to open frame %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "failed to decode frame %s", path)
	}
	return Frame{Index: s.pos, Img: img}, nil
}

func (s *DirSource) Close() error { return nil }
