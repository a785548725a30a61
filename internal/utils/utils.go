package utils

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr.
// This ensures we don't lose crash information when a child tool dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box, dumping the child's stderr logs
// when a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "CLASSWATCH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nCHILD PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for unrecoverable errors.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. MJPEG Stream Splitting (shared by the video and webcam sources) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to
// extract full JPEG frames from an MJPEG byte stream.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a standard decoder pipe for recorded class videos.
// FFmpeg emits raw MJPEG frames to Stdout so SplitJpeg can carve them up.
func NewFFmpegCmd(inputPath string) *SafeCommand {
	// -hide_banner and -loglevel error keep the stderr buffer small.
	return NewSafeCommand("ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// --- 3. Session Identity ---

// SessionID builds the identifier a monitor run publishes under: the session
// date and time plus a short random suffix so two runs starting in the same
// second never collide.
func SessionID(start time.Time) string {
	return fmt.Sprintf("%s-%s-%s",
		start.Format("2006-01-02"),
		start.Format("15:04:05"),
		uuid.NewString()[:8])
}
