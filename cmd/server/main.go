// Package main provides the API server entry point for the portfolio aggregator.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-aggregator/internal/api"
	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)
	logger.Info("portfolio aggregator starting")

	a, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialise")
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// prices first so the first scheduled refresh has quotes
	a.Start(ctx)

	scheduler := service.NewIntervalScheduler(a.Portfolio, cfg.Aggregator.RefreshInterval)
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start refresh scheduler")
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	serverConfig.Burst = cfg.RateLimit.Burst

	server := api.NewServer(serverConfig, a.Portfolio, a.Prices, a.Providers, a.Metrics)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":             cfg.Server.Host,
		"port":             cfg.Server.Port,
		"refresh_interval": cfg.Aggregator.RefreshInterval.String(),
		"redis":            a.Redis != nil,
		"clickhouse":       a.ClickHouse != nil,
	}).Info("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Warn("refresh scheduler stop")
	}
	cancel()

	logger.Info("server exited")
}
