package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// SweepCmd runs one orphan sweep pass.
func SweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove objects the ledger has retired and retry queued deletions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, closer, err := open(cmd)
			if err != nil {
				return err
			}
			defer closer()

			if a.Sweeper == nil {
				return errors.New("sweep needs DATABASE_URL to read the object ledger")
			}
			res, err := a.Sweeper.Sweep(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "retried %d, scanned %d, removed %d orphans, skipped %d recent, kept %d untracked, %d failures\n",
				res.Retried, res.Scanned, res.Orphans, res.Skipped, res.Untracked, res.Failures)
			return err
		},
	}
}
