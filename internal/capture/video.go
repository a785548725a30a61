package capture

import (
	"bufio"
	"bytes"
	"context"
	"image/jpeg"
	"io"

	"github.com/classwatch/classwatch/internal/utils"
	"github.com/pkg/errors"
)

const megabyte = 1024 * 1024

// VideoSource replays a recorded class video through an ffmpeg image2pipe
// decode, splitting the MJPEG stream on JPEG markers.
type VideoSource struct {
	cmd     *utils.SafeCommand
	pipe    io.ReadCloser
	scanner *bufio.Scanner
	index   int
	closed  bool
}

// OpenVideo starts the ffmpeg decoder for the given path.
func OpenVideo(path string) (*VideoSource, error) {
	cmd := utils.NewFFmpegCmd(path)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		pipe.Close()
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &VideoSource{cmd: cmd, pipe: pipe, scanner: scanner}, nil
}

func (s *VideoSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Frame{}, errors.Wrap(err, "frame scanner failed")
			}
			if err := s.drain(); err != nil {
				return Frame{}, err
			}
			return Frame{}, io.EOF
		}

		img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
		if err != nil {
			// A corrupt frame in the recording; skip it.
			continue
		}

		s.index++
		return Frame{Index: s.index, Img: img}, nil
	}
}

// drain reaps the ffmpeg process once the stream ends, surfacing its stderr
// when the decode failed partway through.
func (s *VideoSource) drain() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	if err := cmd.Wait(); err != nil {
		if cmd.Stderr.Len() > 0 {
			return errors.Errorf("ffmpeg failed: %v: %s", err, bytes.TrimSpace(cmd.Stderr.Bytes()))
		}
		return errors.Wrap(err, "ffmpeg failed")
	}
	return nil
}

func (s *VideoSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pipe.Close()
	if s.cmd != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.cmd = nil
	}
	return nil
}
