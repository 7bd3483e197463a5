package main

import (
	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/fyrsmithlabs/verdictd/internal/synthesis"
	"github.com/spf13/cobra"
)

func newPendingCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		run   bool
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List argument pairs awaiting synthesis",
		Long: `List pairing-key groups of exactly two pending responses.

With --run each listed pair is synthesized once, paced by sweep.rate, and a
sweep report is printed instead. Failures for one pair do not stop the rest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(a *app) error {
				if run {
					sweep := a.cfg.Sweep
					sweep.BatchSize = limit
					report, err := synthesis.NewSweeper(a.service, sweep, a.logger).SweepOnce(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), report)
				}

				pairs, err := a.service.FindPendingPairs(ctx, limit)
				if err != nil {
					return err
				}
				if pairs == nil {
					pairs = []store.PendingPair{}
				}
				return printJSON(cmd.OutOrStdout(), pairs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", synthesis.DefaultPendingLimit, "maximum number of pairs")
	cmd.Flags().BoolVar(&run, "run", false, "synthesize the listed pairs")
	return cmd
}
