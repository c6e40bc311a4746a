// Command acmefront runs the ACME front-end, its queue workers and the
// operator tooling for the non-ACME order channel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dmitrymomot/acmefront/app/acmefront"
	"github.com/dmitrymomot/acmefront/core/config"
)

const programName = "acmefront"

var globalFlags = struct {
	debug   bool
	memory  bool
	envFile string
}{}

type configKey struct{}

func configFrom(ctx context.Context) acmefront.Config {
	cfg, _ := ctx.Value(configKey{}).(acmefront.Config)
	return cfg
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if globalFlags.envFile != "" {
		if err := os.Setenv("ENV_FILE", globalFlags.envFile); err != nil {
			return err
		}
	}

	var cfg acmefront.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if globalFlags.debug {
		cfg.LogLevel = "debug"
	}
	if globalFlags.memory {
		cfg.Storage = acmefront.StorageMemory
		cfg.FakeCA = true
		cfg.Fulfillment.DefaultVendor = "fake"
	}

	cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
	return nil
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *acmefront.App) error) error {
	ctx := cmd.Context()
	app, err := acmefront.New(ctx, configFrom(ctx))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			app.Logger().Error("close app", slog.Any("error", cerr))
		}
	}()

	log := app.Logger()
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		log.Debug(fmt.Sprintf(format, v...), slog.String("component", programName))
	})); err != nil {
		log.Warn("set GOMAXPROCS", slog.Any("error", err))
	}
	return fn(ctx, app)
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               programName,
		Short:             "ACME front-end over the certificate fulfillment engine",
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	root.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&globalFlags.memory, "memory", false, "use in-memory storage and the fake CA")
	root.PersistentFlags().StringVar(&globalFlags.envFile, "env-file", "", "dotenv file to load (default .env)")

	root.AddCommand(
		serveCommand(),
		workerCommand(),
		migrateCommand(),
		sweepCommand(),
		orderCommand(),
		delegationCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}
