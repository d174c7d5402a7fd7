package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/xraph/courier/internal/commands"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if err := setupLogger("info", "text"); err != nil {
		panic(err)
	}

	var (
		ctx   = context.Background()
		flags = &commands.Flags{}
	)

	app := &cli.Command{
		Name:      "courier",
		Usage:     "Relay messages over HTTP, AMQP and STOMP",
		UsageText: "courier [global options] command [command options]",
		Description: `Courier accepts relay requests over a REST API and forwards them to HTTP
endpoints, RabbitMQ brokers or STOMP-over-WebSocket brokers, recording every
attempt.

Run 'courier serve' to start the API and the embedded STOMP hub.
Run 'courier migrate' to prepare the configured store.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("COURIER_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (text, json)",
				Sources:     cli.EnvVars("COURIER_LOG_FORMAT"),
				Value:       "text",
				Destination: &flags.LogFormat,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("COURIER_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			if err := setupLogger(flags.LogLevel, flags.LogFormat); err != nil {
				return ctx, err
			}

			cfg, err := commands.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg
			return ctx, nil
		},
	}

	app = commands.NewServeCmd(flags).Register(app)
	app = commands.NewMigrateCmd(flags).Register(app)

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("courier failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}
