package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/api"
	"github.com/etiba/appointment-scheduling/internal/appointment"
	"github.com/etiba/appointment-scheduling/internal/config"
	"github.com/etiba/appointment-scheduling/internal/db"
	"github.com/etiba/appointment-scheduling/internal/logger"
	"github.com/etiba/appointment-scheduling/internal/notification"
	redisclient "github.com/etiba/appointment-scheduling/internal/redis"
)

var version = "dev"

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

	lg.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Bool("doctor_lock", cfg.DoctorLock),
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
	lg.Info("connected to Postgres")

	if err := db.RunMigrations(rootCtx, pgPool, lg); err != nil {
		lg.Fatal("migrations failed", zap.Error(err))
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		lg.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("error closing redis", zap.Error(err))
		}
	}()
	lg.Info("connected to Redis")

	var locker redisclient.Locker = redisclient.NoopLocker{}
	if cfg.DoctorLock {
		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, lg.Named("lock"))
	}

	repo := appointment.NewPgRepository(pgPool)
	publisher := notification.NewQueuePublisher(redisclient.NewQueue(rdb, cfg.NotifyQueue))
	svc := appointment.NewService(repo, locker, publisher, cfg, lg.Named("scheduling"))

	router := api.NewRouter(api.RouterConfig{
		Scheduler: svc,
		Inbox:     notification.NewPgStore(pgPool),
		Postgres:  pgPool,
		Redis:     api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Logger:    lg.Named("http"),
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			lg.Error("http server error", zap.Error(err))
		}
	}

	lg.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}
