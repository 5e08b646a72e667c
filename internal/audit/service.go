package audit

import (
	"context"
	"fmt"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/apperr"
)

const (
	defaultTrailLimit = 200
	maxTrailLimit     = 1000
	defaultInboxLimit = 50
)

var ErrInvalidRange = apperr.Validation("INVALID_RANGE", "from must be before to")

// Service answers the read side: the audit trail and each user's inbox.
type Service struct {
	repo Repository
	auth access.Authorizer
}

func NewService(repo Repository, auth access.Authorizer) *Service {
	return &Service{repo: repo, auth: auth}
}

func (s *Service) AuditTrail(ctx context.Context, actor int64, f TrailFilter) ([]Entry, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewAudit); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, ErrInvalidRange
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultTrailLimit
	case f.Limit > maxTrailLimit:
		f.Limit = maxTrailLimit
	}

	entries, err := s.repo.ListEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	return entries, nil
}

// Notifications lists the actor's own notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor int64, limit int) ([]Notification, error) {
	if err := s.auth.Require(ctx, actor, access.CapInbox); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxTrailLimit {
		limit = defaultInboxLimit
	}
	return s.repo.ListNotifications(ctx, actor, limit)
}

func (s *Service) UnreadCount(ctx context.Context, actor int64) (int, error) {
	if err := s.auth.Require(ctx, actor, access.CapInbox); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, actor)
}

func (s *Service) MarkAllRead(ctx context.Context, actor int64) (int64, error) {
	if err := s.auth.Require(ctx, actor, access.CapInbox); err != nil {
		return 0, err
	}
	return s.repo.MarkAllRead(ctx, actor)
}
