package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/api"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/logging"
	"github.com/hackgods/hospital-operations/internal/metrics"
	"github.com/hackgods/hospital-operations/internal/outbox"
	"github.com/hackgods/hospital-operations/internal/tracing"
)

const serviceName = "outbox-relay"

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

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	producer, err := outbox.NewKafkaPublisher(outbox.KafkaConfig{
		Brokers:       cfg.KafkaBrokers,
		ClientID:      serviceName,
		Linger:        5 * time.Millisecond,
		RecordRetries: 3,
	}, logger.Named("kafka"))
	if err != nil {
		logger.Fatal("kafka client error", zap.Error(err))
	}
	defer producer.Close()

	topicsCtx, cancelTopics := context.WithTimeout(rootCtx, 15*time.Second)
	specs := make([]outbox.TopicSpec, 0, len(audit.Aggregates)+1)
	for _, name := range audit.Topics(cfg.OutboxTopicPrefix) {
		specs = append(specs, outbox.TopicSpec{Name: name, Partitions: 3, Replication: 1, RetentionMS: "604800000"})
	}
	if err := producer.EnsureTopics(topicsCtx, specs); err != nil {
		// the relay still works against auto-created topics
		logger.Warn("ensure topics failed", zap.Error(err))
	}
	cancelTopics()
	logger.Info("connected to Kafka", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New(prometheus.NewRegistry())
	pub := outbox.NewBreakerPublisher(producer, outbox.DefaultBreakerConfig("kafka"), m, logger.Named("breaker"))
	tx := db.NewTxRunner(pgPool, cfg.TxMaxRetries, logger.Named("tx"))

	relay := outbox.NewRelay(outbox.NewPgStore(pgPool), pub, tx, outbox.Config{
		BatchSize:       cfg.OutboxBatchSize,
		PollInterval:    cfg.OutboxPollInterval,
		MaxRetries:      cfg.OutboxMaxRetries,
		DeadLetterTopic: audit.DeadLetterTopic(cfg.OutboxTopicPrefix),
		Retention:       cfg.OutboxRetention,
	}, m, logger.Named("relay"))

	health := api.NewHealthHandler(cfg.Env, "",
		api.Dependency{Name: "postgres", Pinger: pgPool, Critical: true},
		api.Dependency{Name: "kafka", Pinger: producer, Critical: true},
	)
	r := chi.NewRouter()
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	if err := relay.Run(rootCtx); err != nil {
		logger.Error("relay stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
	logger.Info("outbox relay stopped")
}
