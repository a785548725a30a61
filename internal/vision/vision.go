// Package vision holds the in-process face detection and the small
// geometry/matching helpers used by the session engine. Everything network
// bound (descriptors, emotions) lives in the inference package instead.
package vision

import (
	"image"
	"image/draw"
	"math"
)

// Rect is a detected face bounding box in frame coordinates.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Detector finds faces in a frame.
type Detector interface {
	Detect(img image.Image) ([]Rect, error)
}

// CosineDist measures how far apart two descriptors point.
func CosineDist(a, b []float64) float64 {
	var dot, sumA, sumB float64
	for i := range a {
		dot += a[i] * b[i]
		sumA += a[i] * a[i]
		sumB += b[i] * b[i]
	}
	// Return 1.0 (max distance) if a vector is zero to avoid division by zero
	if sumA == 0 || sumB == 0 {
		return 1.0
	}
	return 1.0 - (dot / (math.Sqrt(sumA) * math.Sqrt(sumB)))
}

// Attentive reports whether a face is roughly centered in the frame: its
// center must sit within a quarter of the frame width and height from the
// frame center. Faces at the edges count as looking away.
func Attentive(face Rect, frameW, frameH int) bool {
	faceCX := float64(face.X) + float64(face.W)/2
	faceCY := float64(face.Y) + float64(face.H)/2
	frameCX := float64(frameW) / 2
	frameCY := float64(frameH) / 2

	tolW := float64(frameW) * 0.25
	tolH := float64(frameH) * 0.25
	return math.Abs(faceCX-frameCX) < tolW && math.Abs(faceCY-frameCY) < tolH
}

// DominantEmotion picks the most frequent label. Ties go to the label seen
// first, and an empty tally reads as "unknown".
func DominantEmotion(counts map[string]int, order []string) string {
	best := ""
	bestCount := 0
	for _, label := range order {
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}
	if best == "" {
		return "unknown"
	}
	return best
}

// Crop extracts the face region grown by pad (a fraction of the box size on
// each side), clamped to the image bounds. The result is a copy, safe to
// keep after the frame is gone.
func Crop(img image.Image, r Rect, pad float64) image.Image {
	padW := int(float64(r.W) * pad)
	padH := int(float64(r.H) * pad)

	box := image.Rect(r.X-padW, r.Y-padH, r.X+r.W+padW, r.Y+r.H+padH)
	box = box.Intersect(img.Bounds())
	if box.Empty() {
		box = img.Bounds()
	}

	out := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(out, out.Bounds(), img, box.Min, draw.Src)
	return out
}
