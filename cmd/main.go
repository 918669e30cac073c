package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/cuedeck/internal/formatter"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		Config:  shared.DefaultConfig(),
		Logger:  logger,
		Palette: formatter.DefaultPalette(),
	})
	defer runner.Close()

	app := &cli.Command{
		Name:    "cuedeck",
		Usage:   "Control room client for live productions",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("CUEDECK_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before:   runner.configure,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrSessionExpired), errors.Is(err, shared.ErrNotAuthenticated):
			logger.Error("not signed in, run 'cuedeck auth login'", "error", err)
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
			return
		default:
			logger.Error("application error", "error", err)
		}
		runner.Close()
		os.Exit(1)
	}
}
