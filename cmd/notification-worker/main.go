package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/config"
	"github.com/etiba/appointment-scheduling/internal/db"
	"github.com/etiba/appointment-scheduling/internal/logger"
	"github.com/etiba/appointment-scheduling/internal/notification"
	redisclient "github.com/etiba/appointment-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("notification-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("queue", cfg.NotifyQueue),
		zap.Duration("poll", cfg.WorkerInterval),
		zap.Int("max_retries", cfg.NotifyRetries),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		lg.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("error closing redis", zap.Error(err))
		}
	}()

	worker := notification.NewWorker(
		redisclient.NewQueue(rdb, cfg.NotifyQueue),
		notification.NewPgStore(pgPool),
		lg.Named("notifications"),
		cfg.WorkerInterval,
		cfg.NotifyRetries,
	)

	if err := worker.Run(rootCtx); err != nil {
		lg.Error("worker stopped with error", zap.Error(err))
	}
	lg.Info("shutdown signal received, notification worker stopped")
}
