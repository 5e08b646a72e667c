package audit

import (
	"context"

	"github.com/hackgods/hospital-operations/internal/access"
)

type Repository interface {
	InsertEntry(ctx context.Context, e Entry) error
	InsertNotification(ctx context.Context, userID int64, content string) error
	// NotifyRole fans content out to every ACTIVE user holding role and
	// returns how many notifications were written.
	NotifyRole(ctx context.Context, role access.Role, content string) (int64, error)
	InsertOutbox(ctx context.Context, rec OutboxRecord) error

	ListEntries(ctx context.Context, f TrailFilter) ([]Entry, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}
