// Package session runs a class monitoring session: it samples frames from a
// capture source, detects faces, matches them against the enrolled student
// descriptors, and accumulates per-student presence, attention, and emotion
// tallies that become the session's report rows.
package session

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/classwatch/classwatch/internal/capture"
	"github.com/classwatch/classwatch/internal/inference"
	"github.com/classwatch/classwatch/internal/report"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/vision"
	"github.com/schollz/progressbar/v3"
)

// Inference is the slice of the inference client the engine needs.
type Inference interface {
	Embed(ctx context.Context, jpeg []byte) ([]float64, error)
	Analyze(ctx context.Context, jpeg []byte) (inference.Emotion, error)
}

// Publisher receives periodic live snapshots during a run. A nil Publisher
// disables publishing.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Tally is one student's in-memory counters for the session. Only the
// aggregator goroutine touches a Tally while the run is live.
type Tally struct {
	Present         bool
	FramesPresent   int
	FramesAttentive int
	EmotionCounts   map[string]int
	EmotionOrder    []string
}

// TallyView is the read-only projection of a Tally that goes into live
// snapshots.
type TallyView struct {
	Name            string `json:"name"`
	Present         bool   `json:"present"`
	FramesPresent   int    `json:"frames_present"`
	FramesAttentive int    `json:"frames_attentive"`
	DominantEmotion string `json:"dominant_emotion"`
}

// Snapshot is the live session state published mid-run.
type Snapshot struct {
	SessionID   string               `json:"session_id"`
	Date        string               `json:"date"`
	Time        string               `json:"time"`
	TotalFrames int                  `json:"total_frames"`
	Processed   int                  `json:"processed"`
	PerStudent  map[string]TallyView `json:"per_student"`
}

// Result is what a finished run hands back to the caller.
type Result struct {
	Rows        []report.Row
	TotalFrames int
	Processed   int
	Detections  int
}

// Options tune a monitor run. Zero values fall back to sane defaults.
type Options struct {
	MatchThreshold float64
	SampleInterval int
	Workers        int
	FrameBudget    int // stop after this many frames; 0 means unbounded
	CropPad        float64
	Quiet          bool // suppress the progress bar (tests)
}

func (o *Options) defaults() {
	if o.MatchThreshold <= 0 {
		o.MatchThreshold = 0.6
	}
	if o.SampleInterval < 1 {
		o.SampleInterval = 3
	}
	if o.Workers < 1 {
		o.Workers = 2
	}
	if o.CropPad <= 0 {
		o.CropPad = 0.2
	}
}

// Engine ties a roster, a detector, and the inference client into one
// session run.
type Engine struct {
	students  []roster.Student
	detector  vision.Detector
	client    Inference
	publisher Publisher
	sessionID string
	opts      Options

	enrolled map[string][]float64 // roll_no -> reference descriptor
	dim      int
	now      func() time.Time
}

// New builds an engine over the given roster. The roster must not be empty:
// a session with nobody to match is a misconfiguration, not a quiet no-op.
func New(students []roster.Student, detector vision.Detector, client Inference, opts Options) (*Engine, error) {
	if len(students) == 0 {
		return nil, fmt.Errorf("the roster is empty; register students before starting a session")
	}
	opts.defaults()
	return &Engine{
		students: students,
		detector: detector,
		client:   client,
		opts:     opts,
		enrolled: make(map[string][]float64),
		now:      time.Now,
	}, nil
}

// SetPublisher attaches a live snapshot publisher to the run.
func (e *Engine) SetPublisher(p Publisher, sessionID string) {
	e.publisher = p
	e.sessionID = sessionID
}

// SetClock overrides the session clock. Tests pin it.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Enroll embeds each student's registered photo once. Students whose photo
// cannot be read or embedded are logged and excluded from matching, but they
// still appear (as Absent) in the final report.
func (e *Engine) Enroll(ctx context.Context) error {
	for _, st := range e.students {
		if st.ImagePath == "" {
			log.Printf("Student %s (%s) has no registered photo, will be reported absent", st.RollNo, st.Name)
			continue
		}

		photo, err := os.ReadFile(st.ImagePath)
		if err != nil {
			log.Printf("Failed to read photo for %s: %v", st.RollNo, err)
			continue
		}

		desc, err := e.client.Embed(ctx, photo)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Failed to embed photo for %s: %v", st.RollNo, err)
			continue
		}

		if e.dim == 0 {
			e.dim = len(desc)
		} else if len(desc) != e.dim {
			return fmt.Errorf("descriptor length mismatch for %s: got %d, session uses %d", st.RollNo, len(desc), e.dim)
		}
		e.enrolled[st.RollNo] = desc
	}

	if len(e.enrolled) == 0 {
		return fmt.Errorf("no student photo could be enrolled; the session would report everyone absent")
	}
	return nil
}

// EnrolledCount reports how many students have a usable reference descriptor.
func (e *Engine) EnrolledCount() int { return len(e.enrolled) }

// faceTask is one detected face handed to the worker pool.
type faceTask struct {
	frameIndex int
	jpeg       []byte
	rect       vision.Rect
	frameW     int
	frameH     int
}

// faceResult is the worker output the aggregator consumes.
type faceResult struct {
	frameIndex int
	rect       vision.Rect
	frameW     int
	frameH     int
	descriptor []float64
	emotion    string
}

// Run executes the monitor loop over the source until EOF, context
// cancellation, or the frame budget. Cancellation ends the session normally:
// whatever was tallied so far becomes the report.
func (e *Engine) Run(ctx context.Context, src capture.Source) (Result, error) {
	start := e.now()
	date := start.Format("2006-01-02")
	clock := start.Format("15:04:05")

	tally := make(map[string]*Tally, len(e.students))
	for _, st := range e.students {
		tally[st.RollNo] = &Tally{EmotionCounts: make(map[string]int)}
	}

	bar := e.newProgressBar()

	taskChan := make(chan faceTask, e.opts.Workers)
	resultsChan := make(chan faceResult, e.opts.Workers*2)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runWorker(ctx, taskChan, resultsChan)
		}()
	}

	// The aggregator is the only goroutine touching the tally.
	agg := &aggregator{engine: e, tally: tally, date: date, clock: clock}
	aggDone := make(chan struct{})
	go func() {
		agg.consume(ctx, resultsChan)
		close(aggDone)
	}()

	totalFrames := 0
	processed := 0
readLoop:
	for {
		if e.opts.FrameBudget > 0 && totalFrames >= e.opts.FrameBudget {
			break
		}

		frame, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break // Ctrl-C ends the session, the tally still counts
			}
			close(taskChan)
			wg.Wait()
			close(resultsChan)
			<-aggDone
			return Result{}, fmt.Errorf("frame capture failed: %w", err)
		}

		totalFrames++
		bar.Add(1)
		agg.setProgress(totalFrames, processed)

		if totalFrames%e.opts.SampleInterval != 0 {
			continue
		}

		faces, err := e.detector.Detect(frame.Img)
		if err != nil {
			log.Printf("Face detection failed on frame %d: %v", frame.Index, err)
			continue
		}
		processed++

		bounds := frame.Img.Bounds()
		for _, face := range faces {
			crop := vision.Crop(frame.Img, face, e.opts.CropPad)

			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, crop, nil); err != nil {
				log.Printf("Failed to encode face crop on frame %d: %v", frame.Index, err)
				continue
			}

			task := faceTask{
				frameIndex: frame.Index,
				jpeg:       buf.Bytes(),
				rect:       face,
				frameW:     bounds.Dx(),
				frameH:     bounds.Dy(),
			}
			select {
			case taskChan <- task:
			case <-ctx.Done():
				break readLoop
			}
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)
	<-aggDone
	bar.Finish()

	rows := BuildRows(e.students, tally, totalFrames, date, clock)
	e.publishFinal(date, clock, totalFrames, processed, tally)

	return Result{
		Rows:        rows,
		TotalFrames: totalFrames,
		Processed:   processed,
		Detections:  agg.detections,
	}, nil
}

func (e *Engine) newProgressBar() *progressbar.ProgressBar {
	total := e.opts.FrameBudget
	if total <= 0 {
		total = -1 // spinner
	}
	writer := io.Writer(os.Stderr)
	if e.opts.Quiet {
		writer = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Monitoring class"),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionShowCount(),
	)
}

// runWorker drains the task channel: each face crop costs one Embed and one
// Analyze call. An embed failure drops the face; an analyze failure only
// loses the emotion label.
func (e *Engine) runWorker(ctx context.Context, tasks <-chan faceTask, results chan<- faceResult) {
	for task := range tasks {
		desc, err := e.client.Embed(ctx, task.jpeg)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Embed failed for a face on frame %d: %v", task.frameIndex, err)
			}
			continue
		}
		if e.dim > 0 && len(desc) != e.dim {
			log.Printf("Dropping face on frame %d: descriptor length %d, session uses %d", task.frameIndex, len(desc), e.dim)
			continue
		}

		emotion := "unknown"
		if result, err := e.client.Analyze(ctx, task.jpeg); err == nil {
			emotion = result.Dominant
		} else if ctx.Err() == nil {
			log.Printf("Emotion analysis failed for a face on frame %d: %v", task.frameIndex, err)
		}

		results <- faceResult{
			frameIndex: task.frameIndex,
			rect:       task.rect,
			frameW:     task.frameW,
			frameH:     task.frameH,
			descriptor: desc,
			emotion:    emotion,
		}
	}
}

// aggregator owns the tally while the run is live.
type aggregator struct {
	engine *Engine
	tally  map[string]*Tally
	date   string
	clock  string

	mu          sync.Mutex
	totalFrames int
	processed   int
	detections  int
	// seen tracks (frame, roll) so a student matched by two detections in
	// the same frame counts once for that frame.
	seen        map[int]map[string]bool
	lastPublish time.Time
}

func (a *aggregator) setProgress(totalFrames, processed int) {
	a.mu.Lock()
	a.totalFrames = totalFrames
	a.processed = processed
	a.mu.Unlock()
}

func (a *aggregator) consume(ctx context.Context, results <-chan faceResult) {
	a.seen = make(map[int]map[string]bool)
	a.lastPublish = a.engine.now()

	for res := range results {
		a.detections++

		roll := a.engine.match(res.descriptor)
		if roll == "" {
			continue
		}

		marked := a.seen[res.frameIndex]
		if marked == nil {
			marked = make(map[string]bool)
			a.seen[res.frameIndex] = marked
		}
		if marked[roll] {
			continue
		}
		marked[roll] = true

		t := a.tally[roll]
		t.Present = true
		t.FramesPresent++
		if vision.Attentive(res.rect, res.frameW, res.frameH) {
			t.FramesAttentive++
		}
		if res.emotion != "" && res.emotion != "unknown" {
			if t.EmotionCounts[res.emotion] == 0 {
				t.EmotionOrder = append(t.EmotionOrder, res.emotion)
			}
			t.EmotionCounts[res.emotion]++
		}

		a.maybePublish(ctx)
	}
}

// maybePublish pushes a live snapshot at most once per second.
func (a *aggregator) maybePublish(ctx context.Context) {
	e := a.engine
	if e.publisher == nil {
		return
	}
	now := e.now()
	if now.Sub(a.lastPublish) < time.Second {
		return
	}
	a.lastPublish = now

	a.mu.Lock()
	total, processed := a.totalFrames, a.processed
	a.mu.Unlock()

	snap := e.buildSnapshot(a.date, a.clock, total, processed, a.tally)
	if err := e.publisher.Publish(ctx, snap); err != nil && ctx.Err() == nil {
		log.Printf("Failed to publish live snapshot: %v", err)
	}
}

// match returns the enrolled roll number with the lowest cosine distance
// below the threshold, or "" when nobody matches.
func (e *Engine) match(desc []float64) string {
	best := ""
	minDist := e.opts.MatchThreshold
	for roll, ref := range e.enrolled {
		if dist := vision.CosineDist(desc, ref); dist < minDist {
			minDist = dist
			best = roll
		}
	}
	return best
}

func (e *Engine) buildSnapshot(date, clock string, totalFrames, processed int, tally map[string]*Tally) Snapshot {
	per := make(map[string]TallyView, len(e.students))
	for _, st := range e.students {
		t := tally[st.RollNo]
		per[st.RollNo] = TallyView{
			Name:            st.Name,
			Present:         t.Present,
			FramesPresent:   t.FramesPresent,
			FramesAttentive: t.FramesAttentive,
			DominantEmotion: vision.DominantEmotion(t.EmotionCounts, t.EmotionOrder),
		}
	}
	return Snapshot{
		SessionID:   e.sessionID,
		Date:        date,
		Time:        clock,
		TotalFrames: totalFrames,
		Processed:   processed,
		PerStudent:  per,
	}
}

func (e *Engine) publishFinal(date, clock string, totalFrames, processed int, tally map[string]*Tally) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap := e.buildSnapshot(date, clock, totalFrames, processed, tally)
	if err := e.publisher.Publish(ctx, snap); err != nil {
		log.Printf("Failed to publish final snapshot: %v", err)
	}
}

// BuildRows turns the tally into report rows, one per roster student. The
// present percentage divides by every frame read, which is why the report
// column carries the "(approx)" suffix.
func BuildRows(students []roster.Student, tally map[string]*Tally, totalFrames int, date, clock string) []report.Row {
	rows := make([]report.Row, 0, len(students))
	for _, st := range students {
		row := report.Row{
			RollNo:          st.RollNo,
			Name:            st.Name,
			Department:      st.Department,
			Section:         st.Section,
			Date:            date,
			Time:            clock,
			Status:          "Absent",
			DominantEmotion: "N/A",
		}

		t := tally[st.RollNo]
		if t != nil && t.Present {
			row.Status = "Present"
			denom := totalFrames
			if denom < 1 {
				denom = 1
			}
			row.PresentPct = round2(float64(t.FramesPresent) / float64(denom) * 100)
			row.AttentivePct = round2(float64(t.FramesAttentive) / float64(t.FramesPresent) * 100)
			row.DominantEmotion = vision.DominantEmotion(t.EmotionCounts, t.EmotionOrder)
		}
		rows = append(rows, row)
	}
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
