package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/classwatch/classwatch/internal/capture"
	"github.com/classwatch/classwatch/internal/inference"
	"github.com/classwatch/classwatch/internal/live"
	"github.com/classwatch/classwatch/internal/report"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/session"
	"github.com/classwatch/classwatch/internal/utils"
	"github.com/classwatch/classwatch/internal/vision"
	"github.com/spf13/cobra"
)

var monitorOpts struct {
	Input     string
	Interval  int
	Threshold float64
	Frames    int
	Workers   int
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a class session and append report rows",
	Long: `Runs a monitoring session over a webcam, a recorded class video, or a
directory of frames. Stop a live session with Ctrl-C; whatever was
observed up to that point becomes the session report.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMonitor(cmd.Context())
	},
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorOpts.Input, "input", "i", "", "Video file or frame directory (default: the webcam)")
	monitorCmd.Flags().IntVarP(&monitorOpts.Interval, "interval", "n", 0, "Sample every Nth frame for face work (default: config)")
	monitorCmd.Flags().Float64VarP(&monitorOpts.Threshold, "threshold", "t", 0, "Face matching threshold, lower is stricter (default: config)")
	monitorCmd.Flags().IntVarP(&monitorOpts.Frames, "frames", "f", 0, "Stop after this many frames (default: run until EOF or Ctrl-C)")
	monitorCmd.Flags().IntVarP(&monitorOpts.Workers, "workers", "w", 2, "Parallel inference workers")
	rootCmd.AddCommand(monitorCmd)
}

// sourceKind classifies the --input flag: empty means the webcam, a
// directory means frame replay, anything else is a video file.
type sourceKind int

const (
	sourceWebcam sourceKind = iota
	sourceVideo
	sourceDir
)

func classifyInput(input string) (sourceKind, error) {
	if input == "" {
		return sourceWebcam, nil
	}
	info, err := os.Stat(input)
	if err != nil {
		return 0, fmt.Errorf("cannot access input %s: %w", input, err)
	}
	if info.IsDir() {
		return sourceDir, nil
	}
	return sourceVideo, nil
}

func openSource(input string) (capture.Source, error) {
	kind, err := classifyInput(input)
	if err != nil {
		return nil, err
	}
	switch kind {
	case sourceDir:
		return capture.OpenDir(input)
	case sourceVideo:
		return capture.OpenVideo(input)
	default:
		return capture.OpenWebcam(Cfg.Camera.Devices, Cfg.Camera.Width, Cfg.Camera.Height)
	}
}

func runMonitor(ctx context.Context) {
	rosterStore := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
	students, err := rosterStore.Load()
	if err != nil {
		utils.Die("Failed to load the roster", err, nil)
	}

	detector, err := vision.NewPigoDetector(Cfg.CascadePath(), Cfg.Vision.MinFaceSize, Cfg.Vision.TargetWidth)
	if err != nil {
		utils.Die("Failed to load the face detection cascade", err, nil)
	}

	client := inference.New(Cfg.Inference.URL, Cfg.Inference.APIKey,
		time.Duration(Cfg.Inference.TimeoutSec)*time.Second)
	if err := client.Ping(ctx); err != nil {
		utils.Die("Inference service is not reachable", err, nil)
	}

	opts := session.Options{
		MatchThreshold: Cfg.Vision.MatchThreshold,
		SampleInterval: Cfg.Vision.SampleInterval,
		Workers:        monitorOpts.Workers,
		FrameBudget:    monitorOpts.Frames,
	}
	if monitorOpts.Threshold > 0 {
		opts.MatchThreshold = monitorOpts.Threshold
	}
	if monitorOpts.Interval > 0 {
		opts.SampleInterval = monitorOpts.Interval
	}

	engine, err := session.New(students, detector, client, opts)
	if err != nil {
		utils.Die("Cannot start the session", err, nil)
	}

	fmt.Fprintf(os.Stderr, "Enrolling %d registered students...\n", len(students))
	if err := engine.Enroll(ctx); err != nil {
		utils.Die("Enrollment failed", err, nil)
	}
	fmt.Fprintf(os.Stderr, "Enrolled %d of %d students for matching.\n", engine.EnrolledCount(), len(students))

	if Cfg.Redis.Enabled {
		sessionID := utils.SessionID(time.Now())
		publisher, err := live.NewPublisher(ctx, Cfg.Redis.Addr, Cfg.Redis.DB, sessionID)
		if err != nil {
			utils.ShowError("Live publishing disabled", err, nil)
		} else {
			defer publisher.Close()
			engine.SetPublisher(publisher, sessionID)
			fmt.Fprintf(os.Stderr, "Publishing live snapshots as session %s\n", sessionID)
		}
	}

	src, err := openSource(monitorOpts.Input)
	if err != nil {
		utils.Die("Failed to open the frame source", err, nil)
	}
	defer src.Close()

	result, err := engine.Run(ctx, src)
	if err != nil {
		utils.Die("Session failed", err, nil)
	}

	reportStore := report.NewStore(Cfg.ReportCSV())
	if err := reportStore.Append(result.Rows); err != nil {
		utils.Die("Failed to append the session report", err, nil)
	}

	printSummary(result)
}

func printSummary(result session.Result) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "SESSION SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLL NO\tNAME\tSTATUS\t% PRESENT\t% ATTENTIVE\tEMOTION")
	present := 0
	for _, row := range result.Rows {
		if row.Status == "Present" {
			present++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			row.RollNo, row.Name, row.Status, row.PresentPct, row.AttentivePct, row.DominantEmotion)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nFrames read: %d, sampled: %d, face detections: %d\n",
		result.TotalFrames, result.Processed, result.Detections)
	fmt.Fprintf(os.Stderr, "Present: %d / %d students\n", present, len(result.Rows))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}
