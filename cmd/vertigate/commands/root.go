// Package commands defines the vertigate CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/verticalgw/vertigate/internal/app"
	"github.com/verticalgw/vertigate/internal/config"
	"github.com/verticalgw/vertigate/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	cmd := &cli.Command{
		Name:    "vertigate",
		Usage:   "OpenAI-compatible gateway for Vertical Studio",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to TOML config file",
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			authCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Starts the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error, overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json, overrides config)",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// Set up observability before creating app
	if err := observability.Instrument(level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// loadConfig resolves the layered configuration and applies command line
// overrides on top.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"), os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if listen := cmd.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.Log.Format = format
	}

	return cfg, nil
}
