package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/courier"
)

// Store drivers accepted in the store section.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config is the on-disk configuration of the courier binary.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Store   StoreConfig    `yaml:"store"`
	Courier courier.Config `yaml:"courier"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BasePath        string        `yaml:"base_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Courier: courier.DefaultConfig(),
	}
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
}

// Validate checks the server and store sections, then the courier section.
func (c *Config) Validate() error {
	var errs courier.ValidationErrors

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite, DriverMongo, DriverRedis:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, courier.ValidationError{
				Field:   "store.dsn",
				Message: fmt.Sprintf("required for driver %q", c.Store.Driver),
			})
		}
	default:
		errs = append(errs, courier.ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unknown driver %q", c.Store.Driver),
		})
	}

	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, courier.ValidationError{Field: "server.base_path", Message: "must start with /"})
	}

	if err := c.Courier.Validate(); err != nil {
		var inner courier.ValidationErrors
		if errors.As(err, &inner) {
			for _, fe := range inner {
				fe.Field = "courier." + fe.Field
				errs = append(errs, fe)
			}
		} else {
			return err
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
