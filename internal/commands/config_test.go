package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "rabbitmq-local", cfg.Courier.Queue.PrimaryKey)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  base_path: /relay/
  shutdown_timeout: 5s
store:
  driver: Postgres
  dsn: postgres://localhost/courier
courier:
  queue:
    primary_key: main-rabbit
  socket:
    max_connections: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/relay", cfg.Server.BasePath)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "main-rabbit", cfg.Courier.Queue.PrimaryKey)
	assert.Equal(t, 10, cfg.Courier.Socket.MaxConnections)
	// untouched sections keep their defaults
	assert.Equal(t, 5672, cfg.Courier.Queue.Port)
	assert.Equal(t, "/ws", cfg.Courier.Socket.EndpointPath)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidate_StoreDriver(t *testing.T) {
	tests := []struct {
		name  string
		store StoreConfig
		field string
	}{
		{name: "unknown driver", store: StoreConfig{Driver: "cassandra"}, field: "store.driver"},
		{name: "sql without dsn", store: StoreConfig{Driver: DriverSQLite}, field: "store.dsn"},
		{name: "redis without dsn", store: StoreConfig{Driver: DriverRedis, DSN: "  "}, field: "store.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Store = tt.store

			err := cfg.Validate()
			require.Error(t, err)

			var ve courier.ValidationErrors
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields(), tt.field)
		})
	}
}

func TestValidate_PrefixesCourierFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Courier.Queue.Port = 0

	err := cfg.Validate()
	require.Error(t, err)

	var ve courier.ValidationErrors
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields(), "courier.queue.port")
}

func TestValidate_BasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.BasePath = "relay"

	err := cfg.Validate()
	require.Error(t, err)

	var ve courier.ValidationErrors
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields(), "server.base_path")
}

func TestOpenStore_Memory(t *testing.T) {
	s, err := openStore(context.Background(), StoreConfig{Driver: DriverMemory})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), StoreConfig{Driver: "cassandra"})
	assert.Error(t, err)
}
