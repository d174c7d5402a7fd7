package commands

import (
	"os"
	"path/filepath"
)

type Flags struct {
	LogLevel   string
	LogFormat  string
	ConfigPath string

	// Config is loaded in the Before hook and available to all commands
	Config *Config
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "courier", "config.yaml")
}
