package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/classwatch/classwatch/internal/config"
	"github.com/spf13/cobra"
)

// Cfg is the effective configuration shared by all subcommands. It is
// populated in PersistentPreRunE before any command body runs.
var Cfg config.Config

var (
	configPath string
	dataDir    string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "classwatch",
	Short:   "Classroom attendance and engagement monitor",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// The flag beats both the file and the environment.
		if dataDir != "" {
			Cfg.DataDir = dataDir
		}
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON config file (default: $CLASSWATCH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory holding the CSVs and photos")
}
