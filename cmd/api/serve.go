package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"timbermart/internal/adapter/api"
	"timbermart/internal/adapter/api/handler"
	apimiddleware "timbermart/internal/adapter/api/middleware"
	"timbermart/internal/adapter/api/router"
	"timbermart/internal/infrastructure/auth"
	"timbermart/internal/infrastructure/ratelimit"
	"timbermart/internal/infrastructure/websocket"
	"timbermart/internal/usecase"
	"timbermart/pkg/config"
	"timbermart/pkg/logger"
)

const (
	shutdownTimeout        = 10 * time.Second
	limiterCleanupInterval = 10 * time.Minute
)

func newServeCmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the chat HTTP and WebSocket server",
		Action: serve,
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Environment); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(cfg)
	if err != nil {
		logger.Error("Database: %v", err)
		return err
	}
	defer s.close()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage: {PerMinute: cfg.RateLimitMessagesPerMinute},
		ratelimit.ActionTyping:      {PerMinute: cfg.RateLimitTypingPerMinute},
		ratelimit.ActionHTTP:        {PerMinute: cfg.RateLimitHTTPPerMinute},
	})

	chatUseCase := usecase.NewChatUseCase(s.chatRepo, cfg.MaxBodyBytes, cfg.StoreTimeout())
	receiptUseCase := usecase.NewReadReceiptUseCase(s.chatRepo, cfg.StoreTimeout())
	presenceUseCase := usecase.NewPresenceUseCase(s.participantRepo, s.chatRepo, usecase.PresenceConfig{
		IdleThreshold:  cfg.IdleThreshold(),
		SweepInterval:  cfg.SweepInterval(),
		CoalesceWindow: cfg.CoalesceWindow(),
		StoreTimeout:   cfg.StoreTimeout(),
	})

	hub := websocket.NewHub(chatUseCase, receiptUseCase, presenceUseCase, limiter, websocket.Options{
		PingInterval:          cfg.PingInterval(),
		PongTimeout:           cfg.PongTimeout(),
		WriteTimeout:          cfg.WriteTimeout(),
		StoreTimeout:          cfg.StoreTimeout(),
		DrainTimeout:          cfg.DrainTimeout(),
		QueueDepth:            cfg.SessionQueueDepth,
		MaxProtocolViolations: cfg.MaxProtocolViolations,
		MaxBodyBytes:          cfg.MaxBodyBytes,
	})
	chatUseCase.SetNotifier(hub)
	receiptUseCase.SetNotifier(hub)
	presenceUseCase.SetNotifier(hub)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	router.Setup(e, router.Handlers{
		Chat:      handler.NewChatHandler(chatUseCase, receiptUseCase, presenceUseCase),
		Presence:  handler.NewPresenceHandler(presenceUseCase, cfg.HTTPKeepAlive()),
		WebSocket: handler.NewWebSocketHandler(hub, chatUseCase),
		Health:    handler.NewHealthHandler(s.ping, hub),
	}, apimiddleware.NewAuthMiddleware(verifier), limiter)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("WebSocket: shutdown incomplete: %v", err)
		}
		return e.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return presenceUseCase.Run(gctx)
	})

	g.Go(func() error {
		return presenceUseCase.RunFlusher(gctx)
	})

	g.Go(func() error {
		return limiter.Run(gctx, limiterCleanupInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error: %v", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.TokenVerifier, error) {
	switch cfg.AuthProvider {
	case "firebase":
		verifier, err := auth.NewFirebaseVerifier(ctx, auth.FirebaseConfig{
			ProjectID:          cfg.FirebaseProject,
			ServiceAccountJSON: cfg.FirebaseServiceAccountJSON,
			ServiceAccountPath: cfg.FirebaseServiceAccountPath,
		})
		if err != nil {
			return nil, err
		}
		return verifier, nil
	case "jwt", "":
		return auth.NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}
}
