// Package main запускает HTTP-сервер сервиса flexvault.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/flexvault-system/internal/config"
	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/handler"
	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/middleware"
	"github.com/mmeshcher/flexvault-system/internal/oracle"
	"github.com/mmeshcher/flexvault-system/internal/repository"
	"github.com/mmeshcher/flexvault-system/internal/scheduler"
	"github.com/mmeshcher/flexvault-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	// Секрет полномочий эмиссии существует только внутри процесса и никогда
	// не принимается от внешних вызовов.
	l := ledger.New(ledger.Authority(uuid.NewString()))

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, l)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	prices := oracle.NewCache(oracle.NewClient(cfg.FeedGatewayAddress))
	publisher := event.NewLogPublisher(logger)

	svc := service.NewService(repo, prices, publisher, service.Params{
		CollateralAsset:    cfg.CollateralAsset,
		CollateralDecimals: cfg.CollateralDecimals,
		SyntheticAsset:     cfg.SyntheticAsset,
		MintingLimit:       cfg.MintingLimit,
		ConversionRate:     cfg.ConversionRate,
	})
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Bootstrap(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		sugar.Fatalw("bootstrap error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	sched := scheduler.NewScheduler(ctx, svc, logger)
	if err := sched.Register(cfg.ReleaseCron); err != nil {
		sugar.Fatalw("scheduler error", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск планировщика суточных выплат
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting flexvault server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
