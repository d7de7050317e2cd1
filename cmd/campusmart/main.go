// Package main запускает HTTP-сервер магазина CampusMart.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/campusmart/internal/config"
	"github.com/mmeshcher/campusmart/internal/handler"
	"github.com/mmeshcher/campusmart/internal/middleware"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/service"
)

const (
	hubBuffer       = 64
	shutdownTimeout = 5 * time.Second
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CatalogSeedPath != "" {
		if err := seedCatalog(ctx, repo, cfg.CatalogSeedPath, logger); err != nil {
			sugar.Fatalw("catalog seed error", "error", err.Error())
		}
	}

	hub := realtime.NewHub(hubBuffer)

	deps, err := buildDependencies(cfg, hub, logger)
	if err != nil {
		sugar.Fatalw("dependency initialization error", "error", err.Error())
	}
	defer deps.close(logger)

	svc := service.NewService(repo, deps.options)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens will not survive restart")
	}

	h := handler.NewHandler(svc, logger, authMiddleware, hub, cfg.MediaDir)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Пересылка событий из Kafka подписчикам этого экземпляра.
	if deps.consumer != nil {
		g.Go(func() error {
			return relayChanges(ctx, deps.consumer, hub, logger)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting campusmart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
