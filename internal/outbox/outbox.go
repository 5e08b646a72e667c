// Package outbox relays committed domain events from the outbox table to
// Kafka. Rows are claimed with FOR UPDATE SKIP LOCKED inside a transaction so
// several relays can run side by side without publishing an entry twice.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/metrics"
)

type Entry struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// Message is what goes on the wire.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Store interface {
	// Claim locks up to limit unpublished entries with fewer than maxRetries
	// failed attempts, oldest first, skipping rows another relay holds.
	Claim(ctx context.Context, limit, maxRetries int) ([]Entry, error)
	// ClaimExhausted locks unpublished entries that ran out of retries.
	ClaimExhausted(ctx context.Context, limit, maxRetries int) ([]Entry, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Pending(ctx context.Context) (int64, error)
	DeleteProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Config struct {
	BatchSize       int
	PollInterval    time.Duration
	MaxRetries      int
	DeadLetterTopic string
	// Retention of published rows; zero keeps them forever.
	Retention time.Duration
}

type Relay struct {
	store   Store
	pub     Publisher
	tx      db.TxRunner
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewRelay(store Store, pub Publisher, tx db.TxRunner, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Relay{
		store:   store,
		pub:     pub,
		tx:      tx,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("outbox"),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("poll_interval", r.cfg.PollInterval))

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// BatchResult counts what one pass did.
type BatchResult struct {
	Published   int
	Failed      int
	DeadLetters int
}

// RunOnce publishes one batch. A failed publish bumps the entry's retry count
// and the batch carries on; an open breaker ends the batch early.
func (r *Relay) RunOnce(ctx context.Context) (BatchResult, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.batch")
	defer span.End()

	var res BatchResult
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		res = BatchResult{}
		entries, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("outbox.claimed", len(entries)))

		for _, e := range entries {
			err := r.publish(ctx, e)
			if err == nil {
				if err := r.store.MarkProcessed(ctx, e.ID); err != nil {
					return err
				}
				res.Published++
				continue
			}

			res.Failed++
			r.logger.Warn("outbox publish failed",
				zap.Int64("id", e.ID),
				zap.String("event_type", e.EventType),
				zap.Int("retry_count", e.RetryCount+1),
				zap.Error(err))
			if err := r.store.MarkFailed(ctx, e.ID, err.Error()); err != nil {
				return err
			}
			if errors.Is(err, ErrBreakerOpen) {
				break
			}
		}

		if r.cfg.DeadLetterTopic == "" {
			return nil
		}
		dead, err := r.deadLetter(ctx)
		res.DeadLetters = dead
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	r.record(res)
	r.refreshPending(ctx)
	if r.cfg.Retention > 0 {
		if n, err := r.store.DeleteProcessed(ctx, r.cfg.Retention); err != nil {
			r.logger.Warn("outbox cleanup failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Debug("outbox cleanup", zap.Int64("deleted", n))
		}
	}
	return res, nil
}

func (r *Relay) publish(ctx context.Context, e Entry) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.Int64("outbox.id", e.ID),
		attribute.String("event.type", e.EventType),
		attribute.String("messaging.destination", e.Topic),
	))
	defer span.End()

	headers := map[string]string{
		"event_id":       e.EventID.String(),
		"event_type":     e.EventType,
		"aggregate_type": e.AggregateType,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	err := r.pub.Publish(ctx, Message{Topic: e.Topic, Key: e.Key, Value: e.Payload, Headers: headers})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type deadLetter struct {
	EventID       uuid.UUID       `json:"event_id"`
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// deadLetter parks entries that ran out of retries on the dead letter topic.
func (r *Relay) deadLetter(ctx context.Context) (int, error) {
	entries, err := r.store.ClaimExhausted(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, e := range entries {
		body, err := json.Marshal(deadLetter{
			EventID: e.EventID, OriginalTopic: e.Topic, EventType: e.EventType,
			AggregateType: e.AggregateType, AggregateID: e.AggregateID, Payload: e.Payload,
			RetryCount: e.RetryCount, LastError: e.LastError, CreatedAt: e.CreatedAt,
		})
		if err != nil {
			return moved, err
		}
		if err := r.pub.Publish(ctx, Message{Topic: r.cfg.DeadLetterTopic, Key: e.Key, Value: body}); err != nil {
			r.logger.Error("dead letter publish failed", zap.Int64("id", e.ID), zap.Error(err))
			break
		}
		if err := r.store.MarkProcessed(ctx, e.ID); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (r *Relay) record(res BatchResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.OutboxPublished.WithLabelValues("ok").Add(float64(res.Published))
	r.metrics.OutboxPublished.WithLabelValues("failed").Add(float64(res.Failed))
	r.metrics.OutboxPublished.WithLabelValues("dead_letter").Add(float64(res.DeadLetters))
}

func (r *Relay) refreshPending(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	n, err := r.store.Pending(ctx)
	if err != nil {
		r.logger.Warn("outbox pending count failed", zap.Error(err))
		return
	}
	r.metrics.OutboxPending.Set(float64(n))
}
