package main

import (
	"context"
	"time"

	"affordability-pipeline/internal/api"
	"affordability-pipeline/internal/app"
	"affordability-pipeline/internal/schedule"

	"github.com/spf13/cobra"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var (
		addr string
		spec string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and optionally run the pipeline on a schedule",
		Long: `Serve the pipeline HTTP API.

Examples:
  pipeline serve --addr :8080
  pipeline serve --schedule "@hourly"
  pipeline serve --schedule "0 2 * * *"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.Config.HTTP.Addr
			}
			if spec == "" {
				spec = a.Config.Pipeline.Schedule
			}
			if spec != "" {
				stop, err := startSchedule(cmd.Context(), a, spec)
				if err != nil {
					return err
				}
				defer stop()
			}

			r := api.NewRouter(a.Handler(), a.Metrics.Handler(), a.Logger)
			return r.Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from http.addr)")
	cmd.Flags().StringVar(&spec, "schedule", "", "cron expression for scheduled runs (default from pipeline.schedule)")
	return cmd
}

// startSchedule triggers a foreground run on every tick; overlapping ticks
// are skipped by the scheduler.
func startSchedule(ctx context.Context, a *app.App, spec string) (func(), error) {
	logger := a.Logger
	s := schedule.New(ctx, logger)
	id, err := s.Add("pipeline-run", spec, func(ctx context.Context) {
		m, err := a.Run(ctx, "")
		if err != nil {
			logger.Warn("scheduled run did not complete", "run_id", m.RunID, "status", m.Status, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	s.Start()
	logger.Info("scheduled runs enabled", "spec", spec, "next", s.Next(id))
	return func() { s.Stop(time.Minute) }, nil
}
