package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Courier store (SQLite).
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
    headers     TEXT NOT NULL DEFAULT '{}',
    body        TEXT NOT NULL DEFAULT '',
    sender      TEXT NOT NULL DEFAULT '',
    group_id    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
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
    port               INTEGER NOT NULL DEFAULT 0,
    management_port    INTEGER NOT NULL DEFAULT 0,
    username           TEXT NOT NULL DEFAULT '',
    password           TEXT NOT NULL DEFAULT '',
    virtual_host       TEXT NOT NULL DEFAULT '',
    is_primary         INTEGER NOT NULL DEFAULT 0,
    is_active          INTEGER NOT NULL DEFAULT 1,
    container_managed  INTEGER NOT NULL DEFAULT 0,
    container_id       TEXT NOT NULL DEFAULT '',
    container_name     TEXT NOT NULL DEFAULT '',
    health             TEXT NOT NULL DEFAULT 'UNKNOWN',
    last_health_check  TEXT,
    params             TEXT NOT NULL DEFAULT '{}',
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now')),
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
