package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/widgetchat-backend/internal/app"
	"github.com/yungbote/widgetchat-backend/internal/inference"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

func newHealthCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the inference server (shares the readiness cache when redis is configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			eng, err := app.NewEngine(log, cfg.Inference)
			if err != nil {
				return err
			}
			var store statuscache.Store
			if cfg.Realtime.StatusMode == "redis" {
				rs, err := statuscache.DialRedis(cmd.Context(), cfg.Redis.ConnURL(), "widgetchat:")
				if err != nil {
					return err
				}
				defer rs.Close()
				store = rs
			}
			probe := inference.NewHealthProbe(eng, store, time.Duration(cfg.Inference.HealthCacheMinutes)*time.Minute, log)
			st := probe.Check(cmd.Context())
			if refresh {
				st = probe.Refresh(cmd.Context())
			}
			if err := writeJSON(map[string]any{"healthy": st.Healthy, "checked_at": st.CheckedAt, "cached": st.Cached}); err != nil {
				return err
			}
			if !st.Healthy {
				return fmt.Errorf("inference server unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached result and probe now")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models installed on the inference server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			eng, err := app.NewEngine(log, cfg.Inference)
			if err != nil {
				return err
			}
			models, err := eng.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(map[string]any{"models": models})
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [model]",
		Short: "Pull a model onto the inference server (defaults to INFERENCE_DEFAULT_MODEL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			model := cfg.Inference.DefaultModel
			if len(args) == 1 {
				model = args[0]
			}
			eng, err := app.NewEngine(log, cfg.Inference)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := eng.PullModel(cmd.Context(), model); err != nil {
				return err
			}
			return writeJSON(map[string]any{"model": model, "pulled": true, "duration_ms": time.Since(start).Milliseconds()})
		},
	}
}
