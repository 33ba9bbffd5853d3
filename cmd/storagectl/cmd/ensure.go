package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// EnsureBucketCmd runs the bucket lifecycle check and prints its report.
func EnsureBucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-bucket",
		Short: "Create the media bucket if needed, apply its policy and self-test it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, closer, err := open(cmd)
			if err != nil {
				return err
			}
			defer closer()

			rep := a.EnsureBucket(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bucket:          %s\n", a.Config.StorageBucket)
			fmt.Fprintf(out, "state:           %s\n", rep.State)
			fmt.Fprintf(out, "created:         %t\n", rep.Created)
			fmt.Fprintf(out, "policy applied:  %t\n", rep.PolicyApplied)
			if rep.PolicyErr != nil {
				fmt.Fprintf(out, "policy error:    %v\n", rep.PolicyErr)
			}
			if !rep.OK() {
				if rep.Err == nil {
					return errors.New("bucket check incomplete")
				}
				return rep.Err
			}
			return nil
		},
	}
}
