package audit

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one immutable row of the audit log.
type Entry struct {
	ID          int64
	ChangedAt   time.Time
	PerformerID *int64
	Action      Action
	Table       string
	RecordID    *int64
	Field       string
	OldValue    *string
	NewValue    *string
}

// Change is what a mutating operation reports. Old and New are rendered with
// fmt; a nil value is stored as NULL. Actor 0 means the system itself.
type Change struct {
	Actor    int64
	Action   Action
	Table    string
	RecordID int64
	Field    string
	Old      any
	New      any
}

type Notification struct {
	ID        int64
	UserID    int64
	Content   string
	IsRead    bool
	CreatedAt time.Time
}

// Event is a domain fact published after commit through the outbox.
type Event struct {
	Aggregate   string
	AggregateID int64
	Type        string
	Payload     any
}

// OutboxRecord is the stored form of an Event.
type OutboxRecord struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Topic         string
	Key           string
}

type TrailFilter struct {
	Table       string
	PerformerID *int64
	From        *time.Time
	To          *time.Time
	Limit       int
}
