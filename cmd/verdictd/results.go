package main

import (
	"github.com/fyrsmithlabs/verdictd/internal/logging"
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/synthesis"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <pair-token>",
		Short: "Synthesize a verdict for one argument pair",
		Long: `Run the synthesis pipeline for a pair token and print the stored result.

A token that already has a completed result returns it without invoking any
worker. Stage failures never fail the command; they show up as fallback
stages in processing_metrics.

Examples:
  verdictd run r1_r2
  verdictd run pair_1718000000000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			ctx := logging.WithPairToken(cmd.Context(), token)
			return withApp(ctx, opts, func(a *app) error {
				r, err := a.service.RunSynthesis(ctx, token)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <pair-token>",
		Short: "Print the stored synthesis result for a pair token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				r, err := a.service.GetSynthesisResult(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent synthesis results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				rs, err := a.service.ListRecentSyntheses(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if rs == nil {
					rs = []store.SynthesisResult{}
				}
				return printJSON(cmd.OutOrStdout(), rs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", synthesis.DefaultListLimit, "maximum number of results")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show result counts and average confidence by verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				st, err := a.service.GetSynthesisStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
