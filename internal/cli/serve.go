package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reelforge/internal/config"
	"reelforge/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP generation API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Port = port
			}

			p, err := pipeline.Build(cfg, slog.Default())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return p.Serve(ctx)
		},
	}
	cmd.Flags().String("port", "", "Listen port (overrides PORT)")
	return cmd
}
