// Package main provides the snapshot worker entry point.
// It refreshes every wallet at 00:00 UTC so each day gets a portfolio
// snapshot, or once immediately with the "run" argument.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	a, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialise")
	}
	defer a.Close()

	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("running snapshot immediately")
		ctx := context.Background()
		if err := a.WaitForPrices(ctx, 30*time.Second); err != nil {
			logger.WithError(err).Warn("price refresh failed, using fallback prices")
		}
		scheduler := service.NewDailyScheduler(a.Portfolio)
		scheduler.RunOnce(ctx)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)

	scheduler := service.NewDailyScheduler(a.Portfolio)
	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start snapshot scheduler")
	}
	logger.WithField("next_run_in", service.UntilNextMidnightUTC(time.Now()).String()).Info("snapshot worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down snapshot worker")
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Warn("snapshot scheduler stop")
	}
	logger.Info("worker stopped")
}
