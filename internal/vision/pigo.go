package vision

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

const (
	shiftFactor  = 0.1
	scaleFactor  = 1.1
	iouThreshold = 0.2
	// Detections below this quality score are discarded as noise.
	qualityThreshold = 5.0
)

// PigoDetector runs the pigo cascade classifier over frames. Frames wider
// than targetWidth are downsampled for detection and the boxes scaled back,
// which keeps per-frame cost flat regardless of camera resolution.
type PigoDetector struct {
	classifier  *pigo.Pigo
	minSize     int
	targetWidth int
}

// NewPigoDetector loads and unpacks a binary cascade file (the stock
// "facefinder" cascade works well for classroom frames).
func NewPigoDetector(cascadePath string, minSize, targetWidth int) (*PigoDetector, error) {
	cascade, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file %s: %w", cascadePath, err)
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	if minSize <= 0 {
		minSize = 30
	}
	return &PigoDetector{
		classifier:  classifier,
		minSize:     minSize,
		targetWidth: targetWidth,
	}, nil
}

// Detect returns the face boxes found in the frame.
func (d *PigoDetector) Detect(img image.Image) ([]Rect, error) {
	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols := src.Bounds().Dx()
	rows := src.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return nil, nil
	}

	factor := 1
	if d.targetWidth > 0 && cols > d.targetWidth {
		factor = (cols + d.targetWidth - 1) / d.targetWidth
		pixels, cols, rows = downsampleGray(pixels, cols, rows, factor)
	}

	minSize := d.minSize / factor
	if minSize < 20 {
		minSize = 20
	}
	maxSize := cols
	if rows < cols {
		maxSize = rows
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: shiftFactor,
		ScaleFactor: scaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, iouThreshold)

	var faces []Rect
	for _, det := range dets {
		if det.Q < qualityThreshold {
			continue
		}
		scale := det.Scale * factor
		faces = append(faces, Rect{
			X: det.Col*factor - scale/2,
			Y: det.Row*factor - scale/2,
			W: scale,
			H: scale,
		})
	}
	return faces, nil
}

// downsampleGray shrinks a grayscale plane by an integer factor using
// nearest sampling, which is plenty for a detection pre-pass.
func downsampleGray(pixels []uint8, cols, rows, factor int) ([]uint8, int, int) {
	outCols := cols / factor
	outRows := rows / factor
	out := make([]uint8, outCols*outRows)
	for y := 0; y < outRows; y++ {
		srcRow := y * factor * cols
		for x := 0; x < outCols; x++ {
			out[y*outCols+x] = pixels[srcRow+x*factor]
		}
	}
	return out, outCols, outRows
}
