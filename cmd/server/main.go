package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/auth"
	"github.com/hongminglow/homeservices-identity/internal/config"
	"github.com/hongminglow/homeservices-identity/internal/logging"
	"github.com/hongminglow/homeservices-identity/internal/notify"
	"github.com/hongminglow/homeservices-identity/internal/server"
	"github.com/hongminglow/homeservices-identity/internal/storage"
	"github.com/hongminglow/homeservices-identity/internal/storage/memory"
	"github.com/hongminglow/homeservices-identity/internal/storage/mongo"
	"github.com/hongminglow/homeservices-identity/internal/storage/postgres"
)

func main() {
	envLoaded := godotenv.Load() == nil

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	slog.SetDefault(logger)

	if !envLoaded {
		logger.Info("no .env file found; relying on existing environment")
	}
	if cfg.EphemeralSecret {
		logger.Warn("JWT_SECRET not set; using an ephemeral signing secret, tokens will not survive a restart")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	sender, err := newSender(cfg, logger)
	if err != nil {
		return fmt.Errorf("init mail: %w", err)
	}
	dispatcher := notify.NewDispatcher(sender, logger, cfg.MailTimeout)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, auth.DefaultTTL)
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	svc := account.NewService(account.Deps{
		Users:      store,
		Profiles:   store,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	srv := server.New(cfg, svc, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("identity service listening", "addr", cfg.HTTPAddress(), "env", cfg.Env,
			"storage", cfg.StorageDriver, "mail", cfg.MailDriver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("graceful shutdown error", "error", err)
	}
	dispatcher.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.DatabaseURL, logger)
	case config.StorageMongo:
		return mongo.NewStore(ctx, mongo.Config{URL: cfg.MongoURL, Database: cfg.MongoDatabase})
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func newSender(cfg config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.MailDriver {
	case config.MailPostmark:
		return notify.NewPostmarkSender(notify.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			SenderEmail:  cfg.MailSender,
			SupportEmail: cfg.MailSupport,
		})
	default:
		return notify.NewLogSender(logger), nil
	}
}
