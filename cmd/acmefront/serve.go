package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/acmefront/app/acmefront"
)

func serveCommand() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ACME API, health and metrics endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				return app.Serve(ctx, withWorker)
			})
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the queue worker in this process")
	return cmd
}

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queue worker and the periodic scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				return app.Work(ctx)
			})
		},
	}
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Health-check delegations once and prune stale ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				res, err := app.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}
