package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/api"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			opts := []api.Option{
				api.WithMetricsHandler(app.metrics.Handler()),
				api.WithLogger(app.logger),
				api.WithEndpointHealth(app.health.Snapshot),
				api.WithBatchConcurrency(app.cfg.Generation.Concurrency),
			}
			if app.store != nil {
				opts = append(opts, api.WithHistory(app.store))
			}
			if addr == "" {
				addr = app.cfg.Server.Addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app.logger.Info("Semtest ready", "version", Version, "addr", addr, "history", app.store != nil)
			return api.NewServer(app.runner, opts...).
				ListenAndServe(ctx, addr, app.cfg.Server.ReadTimeout, app.cfg.Server.WriteTimeout)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8089)")
	return cmd
}
