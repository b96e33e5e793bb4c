package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"timbermart/internal/infrastructure/database"
	"timbermart/pkg/config"
	"timbermart/pkg/logger"
)

func newMigrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the thread, message and participant tables",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Environment); err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.DBDriver == database.DriverMemory {
				logger.Info("Database: memory driver needs no migration")
				return nil
			}

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			s.close()
			return nil
		},
	}
}
