// Package audit is the append-only side of every mutation: audit log rows,
// per-user notifications and outbox events, all written inside the caller's
// transaction so an abort discards them together with the change itself.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
)

// Recorder is what business services depend on.
type Recorder interface {
	Record(ctx context.Context, changes ...Change) error
	Notify(ctx context.Context, userID int64, content string) error
	NotifyRole(ctx context.Context, role access.Role, content string) error
	Emit(ctx context.Context, ev Event) error
}

type Sink struct {
	repo        Repository
	topicPrefix string
	logger      *zap.Logger
}

func NewSink(repo Repository, topicPrefix string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{repo: repo, topicPrefix: topicPrefix, logger: logger}
}

func (s *Sink) Record(ctx context.Context, changes ...Change) error {
	for _, c := range changes {
		if err := s.repo.InsertEntry(ctx, c.entry()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Notify(ctx context.Context, userID int64, content string) error {
	return s.repo.InsertNotification(ctx, userID, content)
}

func (s *Sink) NotifyRole(ctx context.Context, role access.Role, content string) error {
	n, err := s.repo.NotifyRole(ctx, role, content)
	if err != nil {
		return err
	}
	if n == 0 {
		s.logger.Warn("no active recipients for role notification", zap.String("role", string(role)))
	}
	return nil
}

func (s *Sink) Emit(ctx context.Context, ev Event) error {
	rec, err := s.outboxRecord(ev)
	if err != nil {
		return err
	}
	return s.repo.InsertOutbox(ctx, rec)
}

func (s *Sink) outboxRecord(ev Event) (OutboxRecord, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	id := strconv.FormatInt(ev.AggregateID, 10)
	return OutboxRecord{
		EventID:       uuid.New(),
		AggregateType: ev.Aggregate,
		AggregateID:   id,
		EventType:     ev.Type,
		Payload:       payload,
		Topic:         Topic(s.topicPrefix, ev.Aggregate),
		Key:           id,
	}, nil
}

// Topic names the stream an aggregate's events go to.
func Topic(prefix, aggregate string) string {
	if prefix == "" {
		return aggregate + ".events"
	}
	return prefix + "." + aggregate + ".events"
}

// Aggregates lists every aggregate type that emits events.
var Aggregates = []string{"user", "patient", "doctor", "appointment", "visit", "invoice", "pharmacy_item"}

// Topics returns the stream of every aggregate plus the dead letter topic.
func Topics(prefix string) []string {
	out := make([]string, 0, len(Aggregates)+1)
	for _, a := range Aggregates {
		out = append(out, Topic(prefix, a))
	}
	return append(out, DeadLetterTopic(prefix))
}

func DeadLetterTopic(prefix string) string {
	return Topic(prefix, "dead_letter")
}

func (c Change) entry() Entry {
	e := Entry{
		Action:   c.Action,
		Table:    c.Table,
		Field:    c.Field,
		OldValue: render(c.Old),
		NewValue: render(c.New),
	}
	if c.Actor != 0 {
		actor := c.Actor
		e.PerformerID = &actor
	}
	if c.RecordID != 0 {
		id := c.RecordID
		e.RecordID = &id
	}
	return e
}

func render(v any) *string {
	if v == nil {
		return nil
	}
	s := fmt.Sprint(v)
	return &s
}
