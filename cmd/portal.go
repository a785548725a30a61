package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/classwatch/classwatch/internal/utils"
	"github.com/spf13/cobra"
)

var portalCmd = &cobra.Command{
	Use:   "portal",
	Short: "Terminal menu that launches the other tools",
	Run: func(cmd *cobra.Command, args []string) {
		runPortal(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(portalCmd)
}

type portalEntry struct {
	label string
	args  []string
	// warnFile, when set and missing, prints a heads-up before launching.
	warnFile string
	warnMsg  string
}

func runPortal(ctx context.Context) {
	entries := []portalEntry{
		{label: "Register a student", args: []string{"register"}},
		{label: "Start a class session", args: []string{"monitor"},
			warnFile: Cfg.StudentsCSV(), warnMsg: "No students are registered yet."},
		{label: "Registration web form", args: []string{"web"}},
		{label: "Reporting dashboard", args: []string{"dashboard"},
			warnFile: Cfg.ReportCSV(), warnMsg: "No session report exists yet; the dashboard will be empty."},
		{label: "Print the roster", args: []string{"roster"},
			warnFile: Cfg.StudentsCSV(), warnMsg: "No students are registered yet."},
	}

	self, err := os.Executable()
	if err != nil {
		utils.Die("Cannot locate the classwatch binary", err, nil)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("\nclasswatch portal")
		for i, e := range entries {
			fmt.Printf("  %d) %s\n", i+1, e.label)
		}
		fmt.Println("  0) Exit")
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return // stdin closed
		}
		choice := strings.TrimSpace(line)
		if choice == "0" || choice == "q" {
			return
		}

		idx := -1
		fmt.Sscanf(choice, "%d", &idx)
		if idx < 1 || idx > len(entries) {
			fmt.Println("Pick a number from the menu.")
			continue
		}
		entry := entries[idx-1]

		if entry.warnFile != "" {
			if _, err := os.Stat(entry.warnFile); os.IsNotExist(err) {
				fmt.Printf("Note: %s\n", entry.warnMsg)
			}
		}

		launch(ctx, self, entry.args)
	}
}

// launch runs a subcommand of this binary as a child process, with the
// terminal attached so interactive tools work.
func launch(ctx context.Context, self string, args []string) {
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	cmd := utils.NewSafeCommand(self, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		utils.ShowError("Failed to launch "+args[0], err, nil)
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		cmd.Process.Signal(os.Interrupt)
		<-done
	case err := <-done:
		if err != nil {
			utils.ShowError(args[0]+" exited with an error", err, nil)
		}
	}
}
