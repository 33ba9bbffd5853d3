package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/despertar/media/cmd/storagectl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "storagectl",
		Short: "Media storage operations",
		Long: `Operational commands for the media object store.
Configuration is read from the environment and .env, like the API server.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(cmd.EnsureBucketCmd())
	rootCmd.AddCommand(cmd.SweepCmd())
	rootCmd.AddCommand(cmd.PresignCmd())
	rootCmd.AddCommand(cmd.UploadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
