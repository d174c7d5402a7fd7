package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Courier store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("courier")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_courier_messages",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_messages (
    id          TEXT PRIMARY KEY,
    protocol    TEXT NOT NULL,
    method      TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    version     TEXT NOT NULL DEFAULT '',
    headers     JSONB NOT NULL DEFAULT '{}',
    body        TEXT NOT NULL DEFAULT '',
    sender      TEXT NOT NULL DEFAULT '',
    group_id    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_messages_created ON courier_messages (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_courier_messages_protocol ON courier_messages (protocol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_courier_messages_status ON courier_messages (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_messages`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_courier_brokers",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_brokers (
    id                 TEXT PRIMARY KEY,
    family             TEXT NOT NULL,
    broker_key         TEXT NOT NULL,
    host               TEXT NOT NULL DEFAULT '',
    port               INT NOT NULL DEFAULT 0,
    management_port    INT NOT NULL DEFAULT 0,
    username           TEXT NOT NULL DEFAULT '',
    password           TEXT NOT NULL DEFAULT '',
    virtual_host       TEXT NOT NULL DEFAULT '',
    is_primary         BOOLEAN NOT NULL DEFAULT FALSE,
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    container_managed  BOOLEAN NOT NULL DEFAULT FALSE,
    container_id       TEXT NOT NULL DEFAULT '',
    container_name     TEXT NOT NULL DEFAULT '',
    health             TEXT NOT NULL DEFAULT 'UNKNOWN',
    last_health_check  TIMESTAMPTZ,
    params             JSONB NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (family, broker_key)
);

CREATE INDEX IF NOT EXISTS idx_courier_brokers_active ON courier_brokers (family, is_active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_brokers`)
				return err
			},
		},
	)
}
