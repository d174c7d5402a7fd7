package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

type MigrateCmd struct {
	flags *Flags
}

// NewMigrateCmd creates a new migrate command.
func NewMigrateCmd(flags *Flags) *MigrateCmd {
	return &MigrateCmd{flags: flags}
}

// Register adds the migrate command to the application.
func (cmd *MigrateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "migrate",
		Usage:       "Create or update the store schema",
		UsageText:   "courier migrate",
		Description: "Connects to the configured store and applies its schema migrations, then exits.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *MigrateCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // best-effort cleanup

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	slog.InfoContext(ctx, "store migrated", "driver", cfg.Store.Driver)
	return nil
}
