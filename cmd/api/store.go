package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"timbermart/internal/adapter/api/handler"
	"timbermart/internal/adapter/repository"
	domainrepo "timbermart/internal/domain/repository"
	"timbermart/internal/infrastructure/database"
	"timbermart/pkg/config"
	"timbermart/pkg/logger"
)

type store struct {
	chatRepo        domainrepo.ChatRepository
	participantRepo domainrepo.ParticipantRepository
	ping            handler.StorePinger
	close           func()
}

// openStore connects and migrates the configured backend. Failures carry the
// store-unavailable exit code.
func openStore(cfg *config.Config) (*store, error) {
	if cfg.DBDriver == database.DriverMemory {
		logger.Warn("Database: using in-memory store, data is lost on restart")
		return &store{
			chatRepo:        repository.NewMemoryChatRepository(),
			participantRepo: repository.NewMemoryParticipantRepository(),
			close:           func() {},
		}, nil
	}

	db, err := database.Open(database.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime(),
		Debug:           cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitStoreUnavailable)
	}

	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, cli.Exit(err.Error(), exitStoreUnavailable)
	}

	return &store{
		chatRepo:        repository.NewGormChatRepository(db),
		participantRepo: repository.NewGormParticipantRepository(db),
		ping: func(ctx context.Context) error {
			return database.Ping(ctx, db)
		},
		close: func() {
			if err := database.Close(db); err != nil {
				logger.Error("Database: failed to close: %v", err)
			}
		},
	}, nil
}
