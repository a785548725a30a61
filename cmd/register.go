package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"strings"
	"time"

	"github.com/classwatch/classwatch/internal/capture"
	"github.com/classwatch/classwatch/internal/roster"
	"github.com/classwatch/classwatch/internal/utils"
	"github.com/spf13/cobra"
)

var registerPhotoPath string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a student interactively, with a webcam photo",
	Run: func(cmd *cobra.Command, args []string) {
		runRegister(cmd.Context())
	},
}

func init() {
	registerCmd.Flags().StringVarP(&registerPhotoPath, "photo", "p", "", "Use this image file instead of capturing from the webcam")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(ctx context.Context) {
	store := roster.NewStore(Cfg.StudentsCSV(), Cfg.PhotoDir())
	reader := bufio.NewReader(os.Stdin)

	prompt := func(label string) string {
		fmt.Printf("%s: ", label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	st := roster.Student{
		RollNo:     prompt("Roll No"),
		Name:       prompt("Name"),
		Department: prompt("Department"),
		Section:    prompt("Section"),
		Email:      prompt("Email"),
		Phone:      prompt("Phone (10 digits)"),
	}

	if err := roster.Validate(st); err != nil {
		utils.Die("Registration rejected", err, nil)
	}
	if err := store.Conflict(st); err != nil {
		utils.Die("Registration rejected", err, nil)
	}

	var err error
	if registerPhotoPath != "" {
		st.ImagePath, err = copyPhoto(store, st.RollNo, registerPhotoPath)
	} else {
		st.ImagePath, err = capturePhoto(ctx, store, st.RollNo)
	}
	if err != nil {
		utils.Die("Photo capture failed", err, nil)
	}

	if err := store.Append(st); err != nil {
		utils.Die("Failed to save the registration", err, nil)
	}
	fmt.Printf("Registered %s (%s), photo at %s\n", st.Name, st.RollNo, st.ImagePath)
}

func copyPhoto(store *roster.Store, rollNo, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return store.SavePhoto(rollNo, path, file)
}

// capturePhoto counts down, grabs one good frame from the webcam, and stores
// it as the student's reference photo.
func capturePhoto(ctx context.Context, store *roster.Store, rollNo string) (string, error) {
	src, err := capture.OpenWebcam(Cfg.Camera.Devices, Cfg.Camera.Width, Cfg.Camera.Height)
	if err != nil {
		return "", err
	}
	defer src.Close()

	fmt.Printf("Using camera %s. Look at the camera.\n", src.Device())
	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}

	frame, err := src.Next(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Img, nil); err != nil {
		return "", err
	}
	return store.SavePhoto(rollNo, rollNo+".jpg", &buf)
}
