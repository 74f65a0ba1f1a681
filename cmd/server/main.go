// Package main provides the API server entry point for the signal scanner service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signal-scanner/internal/analysis"
	"github.com/signal-scanner/internal/api"
	"github.com/signal-scanner/internal/config"
	"github.com/signal-scanner/internal/logging"
	"github.com/signal-scanner/internal/market"
	"github.com/signal-scanner/internal/scan"
	"github.com/signal-scanner/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	taskRepo := storage.NewScanTaskRepository(postgres)
	resultRepo := storage.NewScanResultRepository(postgres)
	stockRepo := storage.NewStockRepository(postgres)
	klineRepo := storage.NewKlineRepository(clickhouse)

	// Kline reads go through the Redis cache; the stock list is cheap
	// enough to read straight from Postgres.
	source := market.NewCachedSource(
		market.NewStoreSource(stockRepo, klineRepo),
		redis,
		cfg.Cache.TTL,
	)

	analyzer := analysis.NewEngineClient(&cfg.Engine)

	scanService := scan.NewService(&cfg.Scan, taskRepo, resultRepo, source, analyzer)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, scanService)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then let in-flight scans wind down.
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := scanService.Supervisor().Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Scan workers did not drain in time")
	}

	logger.Info("Server exited")
}
