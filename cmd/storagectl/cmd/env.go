// Package cmd holds the storagectl subcommands.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/despertar/media/internal/app"
	"github.com/despertar/media/internal/config"
	"github.com/despertar/media/internal/logging"
)

// open loads configuration and wires the application for one command.
func open(cmd *cobra.Command) (context.Context, *app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	closer := func() {
		a.Close()
		_ = logger.Sync()
	}
	return ctx, a, closer, nil
}
