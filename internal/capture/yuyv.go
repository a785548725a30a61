package capture

import (
	"image"

	"github.com/pkg/errors"
)

// yuyvToImage unpacks a packed YUYV (YUV 4:2:2) buffer into an image.YCbCr.
// Each 4-byte group Y0 Cb Y1 Cr covers two horizontally adjacent pixels
// sharing one chroma sample, which is exactly image.YCbCrSubsampleRatio422.
func yuyvToImage(raw []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, errors.Errorf("bad YUYV geometry %dx%d", width, height)
	}
	if len(raw) < width*height*2 {
		return nil, errors.Errorf("short YUYV frame: got %d bytes, need %d", len(raw), width*height*2)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := raw[y*width*2:]
		for x := 0; x < width; x += 2 {
			g := row[x*2 : x*2+4]
			yi := y*img.YStride + x
			ci := y*img.CStride + x/2

			img.Y[yi] = g[0]
			img.Y[yi+1] = g[2]
			img.Cb[ci] = g[1]
			img.Cr[ci] = g[3]
		}
	}
	return img, nil
}
