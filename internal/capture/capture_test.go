package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	var err error
	if filepath.Ext(path) == ".png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "frame_002.jpg"), 32, 24)
	writeTestImage(t, filepath.Join(dir, "frame_001.jpg"), 32, 24)
	writeTestImage(t, filepath.Join(dir, "frame_003.png"), 16, 16)
	// Non-image files must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx := context.Background()
	var indices []int
	for {
		frame, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		indices = append(indices, frame.Index)
	}

	if len(indices) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(indices))
	}
	for i, idx := range indices {
		if idx != i+1 {
			t.Errorf("frame %d has index %d, want %d", i, idx, i+1)
		}
	}

	// EOF must be sticky.
	if _, err := src.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after stream end, got %v", err)
	}
}

func TestDirSourceEmpty(t *testing.T) {
	if _, err := OpenDir(t.TempDir()); err == nil {
		t.Error("expected an error for a directory without images")
	}
}

func TestDirSourceContextCancelled(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, filepath.Join(dir, "frame.jpg"), 8, 8)

	src, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Next(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestYUYVToImage(t *testing.T) {
	// A 2x2 frame: four luma samples, two shared chroma pairs.
	raw := []byte{
		10, 100, 20, 200, // row 0: Y0 Cb Y1 Cr
		30, 110, 40, 210, // row 1
	}

	img, err := yuyvToImage(raw, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	ycbcr, ok := img.(*image.YCbCr)
	if !ok {
		t.Fatalf("expected *image.YCbCr, got %T", img)
	}
	if ycbcr.SubsampleRatio != image.YCbCrSubsampleRatio422 {
		t.Errorf("subsample ratio = %v, want 4:2:2", ycbcr.SubsampleRatio)
	}

	wantY := []byte{10, 20, 30, 40}
	for i, want := range wantY {
		x, y := i%2, i/2
		if got := ycbcr.Y[y*ycbcr.YStride+x]; got != want {
			t.Errorf("Y[%d,%d] = %d, want %d", x, y, got, want)
		}
	}
	if ycbcr.Cb[0] != 100 || ycbcr.Cr[0] != 200 {
		t.Errorf("row 0 chroma = (%d,%d), want (100,200)", ycbcr.Cb[0], ycbcr.Cr[0])
	}
}

func TestYUYVToImageShortBuffer(t *testing.T) {
	if _, err := yuyvToImage([]byte{1, 2, 3}, 2, 2); err == nil {
		t.Error("expected an error for a short buffer")
	}
	if _, err := yuyvToImage(nil, 3, 2); err == nil {
		t.Error("expected an error for odd width")
	}
}

func TestFramePassesGateByFormat(t *testing.T) {
	dark := make([]byte, 1000)

	// A dark raw YUYV frame is the camera still initializing: skip it.
	yuyv := &WebcamSource{format: fourccYUYV}
	if yuyv.framePassesGate(dark) {
		t.Error("a dark YUYV frame should be gated out")
	}

	// Compressed MJPEG bytes carry no brightness information, so even a
	// low-byte-value frame must pass.
	mjpeg := &WebcamSource{format: fourccMJPEG}
	if !mjpeg.framePassesGate(dark) {
		t.Error("MJPEG frames must not be judged by their byte histogram")
	}
}

func TestHasGoodLightLevel(t *testing.T) {
	dark := make([]byte, 1000)
	if hasGoodLightLevel(dark) {
		t.Error("an all-black frame should be rejected")
	}

	lit := make([]byte, 1000)
	for i := range lit {
		lit[i] = 120
	}
	if !hasGoodLightLevel(lit) {
		t.Error("a normally lit frame should pass")
	}

	if hasGoodLightLevel(nil) {
		t.Error("an empty frame should be rejected")
	}
}
