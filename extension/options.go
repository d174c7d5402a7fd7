package extension

import (
	"log/slog"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/courier"
	"github.com/xraph/courier/store"
)

// ExtOption configures the Courier extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPrefix sets the URL prefix for the API routes.
func WithPrefix(prefix string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = prefix
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithLogger sets the logger passed to Courier and the API.
func WithLogger(logger *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithCourierOption appends a raw courier.Option to the extension.
func WithCourierOption(opt courier.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithMetricFactory records Courier metrics through factory, e.g. fapp.Metrics().
func WithMetricFactory(factory gu.MetricFactory) ExtOption {
	return func(e *Extension) {
		e.metricFactory = factory
	}
}

// WithDisableRoutes disables API route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrations disables store migrations on Init.
func WithDisableMigrations() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrations = true
	}
}
