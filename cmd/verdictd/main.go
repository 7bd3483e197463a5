// Verdictd adjudicates support/oppose argument pairs into verdicts.
//
// It resolves a pair token to its two argument responses, runs the four
// analysis stages as worker processes and stores one synthesis result per
// pair. Configuration is loaded from ~/.config/verdictd/config.yaml and
// VERDICTD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Import fixture responses and evidence
//	verdictd import fixtures.yaml
//
//	# Synthesize one pair
//	verdictd run r1_r2
//
//	# Run the ops server and the pending-pair sweeper
//	verdictd serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/verdictd/internal/resolver"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitError        = 1
	exitPairNotFound = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, resolver.ErrPairNotFound) {
		return exitPairNotFound
	}
	return exitError
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "verdictd",
		Short: "Synthesize verdicts from support/oppose argument pairs",
		Long: `verdictd turns a pair of opposing arguments into one adjudicated verdict.

Pair tokens may be written as "<supportId>_<opposeId>", in the legacy
"pair_..." form, as a pairing key, or as a single response id.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("verdictd {{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/verdictd/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newStatsCmd(opts),
		newPendingCmd(opts),
		newImportCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "verdictd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
