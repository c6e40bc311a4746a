package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/acmefront/app/acmefront"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			return withApp(cmd, func(ctx context.Context, app *acmefront.App) error {
				m, err := app.Migrator()
				if err != nil {
					return err
				}
				defer m.Close()

				switch direction {
				case "up":
					return m.Up(ctx)
				case "down":
					return m.Down(ctx)
				case "status":
					return m.Status(ctx)
				}
				return fmt.Errorf("unknown direction %q", direction)
			})
		},
	}
}
