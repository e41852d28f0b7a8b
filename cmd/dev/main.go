package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/twi/cmd/dev/cmd"
)

var (
	debug   bool
	version string
)

func main() {
	rootCmd := &cobra.Command{
		Use:              "dev",
		Short:            "twictl developer tasks",
		Long:             "Builds twictl for the host or a board and checks the module with tests and linters.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) { setupLogging() },
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&version, "version", "latest", "version injected into the twictl binary")

	rootCmd.AddCommand(cmd.BuildCmd(), cmd.CheckCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("dev task failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging routes slog through charmbracelet/log, as twictl does.
func setupLogging() {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	charm := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "dev",
		Level:           level,
	})
	charm.SetColorProfile(termenv.TrueColor)
	slog.SetDefault(slog.New(charm))
}
