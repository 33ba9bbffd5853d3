package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/despertar/media/internal/proxy"
)

// PresignCmd prints a presigned download URL.
func PresignCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "presign <key>",
		Short: "Print a time-limited download URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, closer, err := open(cmd)
			if err != nil {
				return err
			}
			defer closer()

			key := args[0]
			if ttl <= 0 {
				ttl = proxy.TTLFor(key)
			}
			if _, err := a.Client.StatObject(ctx, a.Config.StorageBucket, key); err != nil {
				return fmt.Errorf("stat %s: %w", key, err)
			}
			u, err := a.Client.PresignedGetURL(ctx, a.Config.StorageBucket, key, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (default 2h for audio, 24h otherwise)")
	return cmd
}
