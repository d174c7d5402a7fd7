package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/courier"
	"github.com/xraph/courier/container"
	"github.com/xraph/courier/extension"
	"github.com/xraph/courier/observability"
)

type ServeCmd struct {
	flags *Flags

	addr       string
	containers bool
	noMigrate  bool
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the relay HTTP API and STOMP hub",
		UsageText: "courier serve [options]",
		Description: `Opens the configured store, seeds the primary brokers and serves the REST API
together with the embedded STOMP-over-WebSocket endpoint until interrupted.

When container provisioning is enabled the Docker daemon must be reachable at startup.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides server.addr)",
				Sources:     cli.EnvVars("COURIER_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.BoolFlag{
				Name:        "containers",
				Usage:       "enable Docker provisioning of queue brokers",
				Sources:     cli.EnvVars("COURIER_CONTAINERS"),
				Destination: &cmd.containers,
			},
			&cli.BoolFlag{
				Name:        "no-migrate",
				Usage:       "skip store migrations on startup",
				Destination: &cmd.noMigrate,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if cmd.addr != "" {
		cfg.Server.Addr = cmd.addr
	}
	if cmd.containers {
		cfg.Courier.Container.Enabled = true
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // best-effort cleanup

	opts := []extension.ExtOption{
		extension.WithStore(s),
		extension.WithLogger(logger),
		extension.WithConfig(extension.Config{
			Config:            cfg.Courier,
			BasePath:          cfg.Server.BasePath,
			DisableMigrations: cmd.noMigrate,
		}),
		extension.WithMetricFactory(gu.NewMetricsCollector("courier")),
		extension.WithCourierOption(courier.WithTracer(observability.NewTracer())),
	}

	if cfg.Courier.Container.Enabled {
		manager, err := newContainerManager(ctx, cfg.Courier, logger)
		if err != nil {
			return err
		}
		defer manager.Close() //nolint:errcheck // best-effort cleanup
		opts = append(opts, extension.WithCourierOption(courier.WithContainers(manager)))
	}

	ext := extension.New(opts...)
	if err := ext.Init(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           ext.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "courier listening",
			"addr", cfg.Server.Addr,
			"base_path", cfg.Server.BasePath,
			"store", cfg.Store.Driver,
			"containers", cfg.Courier.Container.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = ext.Stop(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if snap := ext.Metrics().Snapshot(); snap != nil {
		logger.Info("relay totals",
			"messages", snap["messages_total"],
			"mean_latency_s", snap["send_latency_mean"],
			"containers_active", snap["containers_active"],
		)
	}
	if err := ext.Stop(shutdownCtx); err != nil {
		logger.Warn("courier stop failed", "error", err)
	}
	return shutdownErr
}

// newContainerManager connects to Docker. An unreachable daemon is fatal.
func newContainerManager(ctx context.Context, cfg courier.Config, logger *slog.Logger) (*container.Manager, error) {
	engine, err := container.NewDockerEngine(ctx, container.DockerConfig{
		ConnectTimeout:  cfg.Container.ConnectTimeout,
		ResponseTimeout: cfg.Container.ResponseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("docker unavailable: %w", err)
	}

	return container.NewManager(engine, container.Config{
		Image:                 cfg.Container.Image,
		Host:                  cfg.Queue.Host,
		DefaultPort:           cfg.Queue.Port,
		DefaultManagementPort: cfg.Queue.ManagementPort,
		MemoryMB:              cfg.Container.MemoryMB,
		MinMemoryMB:           cfg.Container.MinMemoryMB,
		MaxMemoryMB:           cfg.Container.MaxMemoryMB,
		DefaultUsername:       cfg.Queue.Username,
		DefaultPassword:       cfg.Queue.Password,
		DefaultVirtualHost:    cfg.Queue.VirtualHost,
	}, logger), nil
}
