// Package capture provides the frame sources a monitor session can run on:
// a live V4L2 webcam, a recorded class video decoded through ffmpeg, or a
// directory of still frames for deterministic replays and tests.
package capture

import (
	"context"
	"image"
)

// Frame is one decoded video frame. Index counts frames from 1 in the order
// the source produced them.
type Frame struct {
	Index int
	Img   image.Image
}

// Source yields frames until the stream ends. Next returns io.EOF exactly
// once at stream end; a cancelled context wins over a pending read. Close is
// idempotent.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// hasGoodLightLevel rejects frames that are almost entirely dark, which is
// what an obstructed or still-initializing camera produces. Raw luma (or
// packed YUYV, where every other byte is luma) both work here since the
// check only needs a rough brightness histogram.
func hasGoodLightLevel(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	dark := 0
	for _, b := range raw {
		if b < 16 {
			dark++
		}
	}
	return float64(dark)/float64(len(raw)) < 0.95
}
