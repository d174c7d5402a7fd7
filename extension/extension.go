package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/store"
)

// Extension hosts a Courier instance and its HTTP surface.
type Extension struct {
	config  Config
	store   store.Store
	opts    []courier.Option
	logger  *slog.Logger
	courier *courier.Courier

	metricFactory gu.MetricFactory
	metrics       *observability.Metrics
}

// New creates a Courier extension.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Init migrates the store, builds Courier and starts it.
func (e *Extension) Init(ctx context.Context) error {
	if e.store == nil {
		return courier.ErrNoStore
	}

	if !e.config.DisableMigrations {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("courier extension: migrate: %w", err)
		}
	}

	opts := append([]courier.Option{
		courier.WithStore(e.store),
		courier.WithConfig(e.config.Config),
		courier.WithLogger(e.logger),
	}, e.opts...)
	if e.metricFactory != nil {
		e.metrics = observability.NewMetrics(e.metricFactory)
		opts = append(opts, courier.WithMetrics(e.metrics))
	}

	c, err := courier.New(opts...)
	if err != nil {
		return fmt.Errorf("courier extension: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("courier extension: start: %w", err)
	}

	e.courier = c
	e.logger.Info("courier extension initialized",
		"base_path", e.config.BasePath,
		"hub_path", c.Hub().Path(),
	)
	return nil
}

// Stop shuts Courier down.
func (e *Extension) Stop(ctx context.Context) error {
	if e.courier == nil {
		return nil
	}
	return e.courier.Stop(ctx)
}

// Health reports an error when the store is unreachable.
func (e *Extension) Health(ctx context.Context) error {
	if e.courier == nil {
		return errors.New("courier extension: not initialized")
	}
	if h := e.courier.Health(ctx); h.Status != "UP" {
		return fmt.Errorf("courier extension: store %s", strings.ToLower(h.Store))
	}
	return nil
}

// Courier returns the hosted instance, nil before Init.
func (e *Extension) Courier() *courier.Courier { return e.courier }

// Metrics returns the instruments built from the metric factory, nil without one.
func (e *Extension) Metrics() *observability.Metrics { return e.metrics }

// Prefix returns the configured URL prefix.
func (e *Extension) Prefix() string { return e.config.BasePath }

// Handler returns a stdlib handler serving the API under the prefix and the
// STOMP hub at its endpoint path. Init must have succeeded.
func (e *Extension) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.courier.Hub().Path(), e.courier.Hub())

	if !e.config.DisableRoutes {
		prefix := strings.TrimRight(e.config.BasePath, "/")
		h := api.NewHandler(e.courier, e.logger)
		if prefix == "" {
			mux.Handle("/", h)
		} else {
			mux.Handle(prefix+"/", http.StripPrefix(prefix, h))
		}
	}
	return mux
}

// RegisterRoutes registers the API on a Forge router. The hub is a plain
// http.Handler and is mounted separately through Handler or HubHandler.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) {
	if e.config.DisableRoutes {
		return
	}
	api.NewForgeAPI(e.courier, e.config.BasePath, log).RegisterRoutes(router)
}

// HubHandler returns the embedded STOMP hub.
func (e *Extension) HubHandler() http.Handler { return e.courier.Hub() }
