// Package main implements verdict-worker, the bundled analysis worker.
//
// Each subcommand handles one pipeline stage: it reads a single JSON request
// on stdin, writes a single JSON response on stdout and logs to stderr. On
// failure it writes {"success":false,"error":"..."} and exits with status 1.
package main

import (
	"errors"
	"os"

	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	logLevel string
	logger   = logging.NewNop()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var failed *stageFailure
		if !errors.As(err, &failed) {
			// Usage errors never reached a handler; still answer on stdout.
			writeFailure(os.Stdout, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "verdict-worker",
		Short: "Heuristic analysis worker for verdictd",
		Long: `verdict-worker scores argument pairs without ML models.

verdictd starts one process per stage invocation:

  verdict-worker quality        judge evidence quality
  verdict-worker contradiction  measure contradiction between the arguments
  verdict-worker synthesis      decide the verdict
  verdict-worker explanation    explain a synthesis result

Requests arrive as JSON on stdin; responses are written as JSON on stdout.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := logging.NewDefaultConfig()
			lvl, err := logging.LevelFromString(logLevel)
			if err != nil {
				return err
			}
			cfg.Level = lvl
			cfg.Fields["service"] = "verdict-worker"
			cfg.Output = logging.OutputConfig{Stderr: true}
			l, err := logging.NewLogger(cfg, nil)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOr("VERDICT_WORKER_LOG_LEVEL", "warn"), "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		qualityCmd(),
		contradictionCmd(),
		synthesisCmd(),
		explanationCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
