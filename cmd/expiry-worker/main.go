package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/app"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/inventory"
	"github.com/hackgods/hospital-operations/internal/logging"
	redisclient "github.com/hackgods/hospital-operations/internal/redis"
)

// sweepLockKey keeps replicas from sweeping at the same time.
const sweepLockKey = "lock:stock-watch"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.New(cfg.Env, "expiry-worker")
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("expiry-worker starting up", zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	var locker redisclient.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without sweep lock", zap.Error(err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		// the lock must outlive one sweep
		locker = redisclient.NewRedisLocker(rdb, max(cfg.WorkerInterval/2, 20*time.Second))
		logger.Info("connected to Redis")
	}

	application := app.New(pgPool, nil, cfg, logger)
	watch := inventory.NewWatch(application.Inventory, logger.Named("watch"))

	runOnce(rootCtx, watch, locker, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, watch, locker, logger)
		}
	}
}

func runOnce(ctx context.Context, watch *inventory.Watch, locker redisclient.Locker, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	err := locker.WithLock(runCtx, sweepLockKey, func(ctx context.Context) error {
		report, err := watch.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("stock sweep complete",
			zap.Duration("took", time.Since(start)),
			zap.Int("items", report.Items),
			zap.Int("batches", report.Batches),
			zap.Int("level_alerts", report.LevelAlerts),
			zap.Int("expiry_alerts", report.ExpiryAlerts),
			zap.Int("critical_items", report.CriticalItems),
			zap.Int("expired_units", report.ExpiredUnits))
		return nil
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug("another worker is sweeping")
	case err != nil:
		logger.Error("stock sweep failed", zap.Error(err))
	}
}
