package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/widgetchat-backend/internal/app"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Operational tools for the widget chat backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newHealthCmd(), newModelsCmd(), newPullCmd(), newSweepCmd())
	return cmd
}

// bootstrap loads the same configuration the server uses.
func bootstrap() (app.Config, *logger.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, log.With("cmd", "chatctl"), nil
}
