package extension

import (
	"github.com/xraph/courier"
)

// Config holds configuration for the Courier extension.
type Config struct {
	// Config embeds the core courier configuration.
	courier.Config `json:",inline" yaml:",inline"`

	// BasePath is the URL prefix for the API routes (default: "").
	BasePath string `json:"base_path" yaml:"base_path"`

	// DisableRoutes disables API route registration. The socket hub route is
	// still mounted.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes"`

	// DisableMigrations disables store migrations on Init.
	DisableMigrations bool `json:"disable_migrations" yaml:"disable_migrations"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config: courier.DefaultConfig(),
	}
}
