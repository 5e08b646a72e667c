package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/api"
	"github.com/hackgods/hospital-operations/internal/app"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/logging"
	"github.com/hackgods/hospital-operations/internal/metrics"
	redisclient "github.com/hackgods/hospital-operations/internal/redis"
	"github.com/hackgods/hospital-operations/internal/tracing"
)

const serviceName = "api-server"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.New(cfg.Env, serviceName)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1,
	})
	if err != nil {
		logger.Fatal("tracing init error", zap.Error(err))
	}
	logger.Info("tracing configured", zap.Bool("enabled", tp.Enabled()))

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: 20})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	deps := []api.Dependency{{Name: "postgres", Pinger: pgPool, Critical: true}}

	var locker redisclient.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		// bookings stay correct on the unique index alone
		logger.Warn("redis unavailable, slot locks disabled", zap.Error(err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		deps = append(deps, api.Dependency{
			Name:   "redis",
			Pinger: api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		})
		logger.Info("connected to Redis")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	application := app.New(pgPool, locker, cfg, logger)

	server := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Services:    application.Services(),
			Health:      api.NewHealthHandler(cfg.Env, version, deps...),
			Metrics:     m,
			Logger:      logger.Named("http"),
			ServiceName: serviceName,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
	logger.Info("api-server stopped")
}
