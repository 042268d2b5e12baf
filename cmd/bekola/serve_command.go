package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nexston/bekola-backend/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the job workers and certificate scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(parent context.Context, a *app.App) error {
				runCtx, cancel := context.WithCancel(parent)
				defer cancel()

				wait := func() {}
				if !noWorkers {
					w, err := a.StartWorkers(runCtx)
					if err != nil {
						return err
					}
					wait = w
				}
				if err := a.StartScheduler(runCtx); err != nil {
					return err
				}
				err := a.Serve(runCtx)
				// A server that fails to bind still has to stop the workers.
				cancel()
				wait()
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve HTTP only; jobs are left for a separate worker process")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the job workers (database pool or Temporal, per JOB_QUEUE_BACKEND)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(runCtx context.Context, a *app.App) error {
				wait, err := a.StartWorkers(runCtx)
				if err != nil {
					return err
				}
				a.Log.Info("Worker running", "backend", a.Cfg.Jobs.Backend)
				wait()
				return nil
			})
		},
	}
}
