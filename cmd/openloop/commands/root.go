// Package commands provides the CLI commands for openloop.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openloop-ai/openloop/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "openloop",
	Short: "openloop - autonomous agent turn runtime",
	Long: `openloop runs an agentic turn loop against an OpenAI-compatible model:
it streams the model's reply, executes whole-line JSON tool calls as they
arrive, feeds results back, and keeps going until the work is done.

Run 'openloop run' to execute a task, 'openloop serve' to start the
read-only monitor server, or 'openloop sessions' to inspect saved logs.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("openloop %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func initLogging() {
	cfg := logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Pretty: true,
	}
	if !printLogs {
		cfg.Output = io.Discard
	}
	logging.Init(cfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
