package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/classwatch/classwatch/internal/capture"
	"github.com/classwatch/classwatch/internal/inference"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/vision"
)

// fakeSource yields n copies of the same generated frame.
type fakeSource struct {
	img image.Image
	n   int
	pos int
}

func (s *fakeSource) Next(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}
	if s.pos >= s.n {
		return capture.Frame{}, io.EOF
	}
	s.pos++
	return capture.Frame{Index: s.pos, Img: s.img}, nil
}

func (s *fakeSource) Close() error { return nil }

// fakeDetector returns the same face boxes for every frame.
type fakeDetector struct {
	faces []vision.Rect
}

func (d *fakeDetector) Detect(img image.Image) ([]vision.Rect, error) {
	return d.faces, nil
}

// fakeInference maps enrolled photo bytes to fixed descriptors and returns
// a fixed descriptor for every face crop.
type fakeInference struct {
	mu      sync.Mutex
	photos  map[string][]float64 // photo file content -> descriptor
	cropVec []float64
	emotion string
}

func (f *fakeInference) Embed(ctx context.Context, jpegBytes []byte) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vec, ok := f.photos[string(jpegBytes)]; ok {
		return vec, nil
	}
	return f.cropVec, nil
}

func (f *fakeInference) Analyze(ctx context.Context, jpegBytes []byte) (inference.Emotion, error) {
	return inference.Emotion{Dominant: f.emotion}, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (p *fakePublisher) Publish(ctx context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 160, A: 255})
		}
	}
	return img
}

func writePhoto(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunTalliesPresenceAndEmotion(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "photo-asha")},
		{RollNo: "102", Name: "Bala", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "102.jpg", "photo-bala")},
	}

	vecA := []float64{1, 0, 0}
	vecB := []float64{0, 1, 0}
	client := &fakeInference{
		photos: map[string][]float64{
			"photo-asha": vecA,
			"photo-bala": vecB,
		},
		cropVec: vecA, // every detected face is Asha
		emotion: "happy",
	}

	// One face dead center of a 64x48 frame: present and attentive.
	det := &fakeDetector{faces: []vision.Rect{{X: 24, Y: 16, W: 16, H: 16}}}

	eng, err := New(students, det, client, Options{
		MatchThreshold: 0.6,
		SampleInterval: 3,
		Workers:        2,
		Quiet:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	eng.SetClock(func() time.Time {
		return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	})

	ctx := context.Background()
	if err := eng.Enroll(ctx); err != nil {
		t.Fatal(err)
	}
	if eng.EnrolledCount() != 2 {
		t.Fatalf("EnrolledCount = %d, want 2", eng.EnrolledCount())
	}

	pub := &fakePublisher{}
	eng.SetPublisher(pub, "test-session")

	src := &fakeSource{img: testFrame(64, 48), n: 6}
	result, err := eng.Run(ctx, src)
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalFrames != 6 {
		t.Errorf("TotalFrames = %d, want 6", result.TotalFrames)
	}
	if result.Processed != 2 {
		t.Errorf("Processed = %d, want 2 (frames 3 and 6)", result.Processed)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}

	asha := result.Rows[0]
	if asha.RollNo != "101" || asha.Status != "Present" {
		t.Errorf("Asha row = %+v, want Present", asha)
	}
	// Present on 2 of 6 total frames.
	if math.Abs(asha.PresentPct-33.33) > 0.01 {
		t.Errorf("Asha PresentPct = %.2f, want 33.33", asha.PresentPct)
	}
	if math.Abs(asha.AttentivePct-100) > 0.01 {
		t.Errorf("Asha AttentivePct = %.2f, want 100", asha.AttentivePct)
	}
	if asha.DominantEmotion != "happy" {
		t.Errorf("Asha DominantEmotion = %q, want happy", asha.DominantEmotion)
	}

	bala := result.Rows[1]
	if bala.Status != "Absent" {
		t.Errorf("Bala Status = %q, want Absent", bala.Status)
	}
	if bala.PresentPct != 0 || bala.AttentivePct != 0 || bala.DominantEmotion != "N/A" {
		t.Errorf("Bala absent row = %+v, want zeroed percentages and N/A", bala)
	}
	if bala.Date != "2024-03-15" || bala.Time != "09:30:00" {
		t.Errorf("session key = %s %s, want pinned clock", bala.Date, bala.Time)
	}

	// At least the final snapshot must have been published.
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.snaps) == 0 {
		t.Fatal("expected at least one published snapshot")
	}
	last := pub.snaps[len(pub.snaps)-1]
	if last.SessionID != "test-session" || last.TotalFrames != 6 {
		t.Errorf("final snapshot = %+v", last)
	}
	if view := last.PerStudent["101"]; !view.Present || view.FramesPresent != 2 {
		t.Errorf("snapshot view for 101 = %+v", view)
	}
}

func TestRunCountsStudentOncePerFrame(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "photo-asha")},
	}

	vecA := []float64{1, 0, 0}
	client := &fakeInference{
		photos:  map[string][]float64{"photo-asha": vecA},
		cropVec: vecA, // both faces match Asha
		emotion: "happy",
	}

	// Two detections per frame that both resolve to the same student.
	det := &fakeDetector{faces: []vision.Rect{
		{X: 8, Y: 8, W: 16, H: 16},
		{X: 40, Y: 24, W: 16, H: 16},
	}}

	eng, err := New(students, det, client, Options{SampleInterval: 1, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Enroll(context.Background()); err != nil {
		t.Fatal(err)
	}

	pub := &fakePublisher{}
	eng.SetPublisher(pub, "dedup-session")

	result, err := eng.Run(context.Background(), &fakeSource{img: testFrame(64, 48), n: 3})
	if err != nil {
		t.Fatal(err)
	}

	// Every face crop costs inference calls...
	if result.Detections != 6 {
		t.Errorf("Detections = %d, want 6 (two faces on each of 3 frames)", result.Detections)
	}
	// ...but a student matched twice in one frame counts once for it.
	if math.Abs(result.Rows[0].PresentPct-100) > 0.01 {
		t.Errorf("PresentPct = %.2f, want 100 (once per frame, never double)", result.Rows[0].PresentPct)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	last := pub.snaps[len(pub.snaps)-1]
	if view := last.PerStudent["101"]; view.FramesPresent != 3 {
		t.Errorf("FramesPresent = %d, want 3", view.FramesPresent)
	}
}

// failingInference embeds enrollment photos fine but fails on every face
// crop the workers send.
type failingInference struct {
	photos map[string][]float64
}

func (f *failingInference) Embed(ctx context.Context, jpegBytes []byte) ([]float64, error) {
	if vec, ok := f.photos[string(jpegBytes)]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("inference service returned 503 on /v1/embed")
}

func (f *failingInference) Analyze(ctx context.Context, jpegBytes []byte) (inference.Emotion, error) {
	return inference.Emotion{}, fmt.Errorf("inference service returned 503 on /v1/analyze")
}

func TestRunEmbedFailureDropsFaceOnly(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "photo-asha")},
	}
	client := &failingInference{photos: map[string][]float64{"photo-asha": {1, 0}}}
	det := &fakeDetector{faces: []vision.Rect{{X: 24, Y: 16, W: 16, H: 16}}}

	eng, err := New(students, det, client, Options{SampleInterval: 1, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Enroll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Every face embed fails; the run must still finish cleanly with the
	// student reported absent, not abort or hang the worker pool.
	result, err := eng.Run(context.Background(), &fakeSource{img: testFrame(64, 48), n: 3})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFrames != 3 {
		t.Errorf("TotalFrames = %d, want 3", result.TotalFrames)
	}
	if result.Detections != 0 {
		t.Errorf("Detections = %d, want 0 (dropped faces never reach the aggregator)", result.Detections)
	}
	if len(result.Rows) != 1 || result.Rows[0].Status != "Absent" {
		t.Errorf("rows = %+v, want Asha Absent", result.Rows)
	}
}

func TestRunZeroFrames(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "photo-asha")},
	}
	client := &fakeInference{
		photos:  map[string][]float64{"photo-asha": {1, 0}},
		cropVec: []float64{1, 0},
	}

	eng, err := New(students, &fakeDetector{}, client, Options{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Enroll(context.Background()); err != nil {
		t.Fatal(err)
	}

	result, err := eng.Run(context.Background(), &fakeSource{img: testFrame(8, 8), n: 0})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFrames != 0 {
		t.Errorf("TotalFrames = %d, want 0", result.TotalFrames)
	}
	if len(result.Rows) != 1 || result.Rows[0].Status != "Absent" {
		t.Errorf("zero-frame session should report everyone absent, got %+v", result.Rows)
	}
}

func TestRunFrameBudget(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "p")},
	}
	client := &fakeInference{
		photos:  map[string][]float64{"p": {1, 0}},
		cropVec: []float64{0, 1}, // never matches
	}

	eng, err := New(students, &fakeDetector{}, client, Options{FrameBudget: 4, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Enroll(context.Background()); err != nil {
		t.Fatal(err)
	}

	result, err := eng.Run(context.Background(), &fakeSource{img: testFrame(8, 8), n: 100})
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFrames != 4 {
		t.Errorf("TotalFrames = %d, want the 4-frame budget", result.TotalFrames)
	}
}

func TestNewRejectsEmptyRoster(t *testing.T) {
	if _, err := New(nil, &fakeDetector{}, &fakeInference{}, Options{}); err == nil {
		t.Error("expected an error for an empty roster")
	}
}

func TestEnrollSkipsUnreadablePhotos(t *testing.T) {
	dir := t.TempDir()
	students := []roster.Student{
		{RollNo: "101", Name: "Asha", Department: "CSE", Section: "A",
			ImagePath: writePhoto(t, dir, "101.jpg", "p")},
		{RollNo: "102", Name: "Bala", Department: "CSE", Section: "A",
			ImagePath: filepath.Join(dir, "missing.jpg")},
		{RollNo: "103", Name: "Charu", Department: "CSE", Section: "A"},
	}
	client := &fakeInference{photos: map[string][]float64{"p": {1, 0}}, cropVec: []float64{1, 0}}

	eng, err := New(students, &fakeDetector{}, client, Options{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Enroll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eng.EnrolledCount() != 1 {
		t.Errorf("EnrolledCount = %d, want 1", eng.EnrolledCount())
	}
}

func TestBuildRowsRounding(t *testing.T) {
	students := []roster.Student{{RollNo: "1", Name: "X", Department: "D", Section: "S"}}
	tally := map[string]*Tally{
		"1": {
			Present:         true,
			FramesPresent:   1,
			FramesAttentive: 1,
			EmotionCounts:   map[string]int{"neutral": 2, "happy": 2},
			EmotionOrder:    []string{"neutral", "happy"},
		},
	}

	rows := BuildRows(students, tally, 3, "2024-03-15", "09:30:00")
	if len(rows) != 1 {
		t.Fatal("expected one row")
	}
	if math.Abs(rows[0].PresentPct-33.33) > 0.001 {
		t.Errorf("PresentPct = %v, want 33.33", rows[0].PresentPct)
	}
	// First-seen label wins the tie.
	if rows[0].DominantEmotion != "neutral" {
		t.Errorf("DominantEmotion = %q, want neutral", rows[0].DominantEmotion)
	}
}

// The fakes above never re-encode frames; this keeps the engine honest about
// sending real JPEG bytes to the inference client.
func TestCropEncodesAsJPEG(t *testing.T) {
	crop := vision.Crop(testFrame(32, 32), vision.Rect{X: 8, Y: 8, W: 8, H: 8}, 0.2)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Errorf("crop did not round-trip as JPEG: %v", err)
	}
}
