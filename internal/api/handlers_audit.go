package api

import (
	"net/http"

	"github.com/hackgods/hospital-operations/internal/audit"
)

func (h *handler) auditTrail(r *http.Request, actor int64) (int, any, error) {
	f := audit.TrailFilter{Table: r.URL.Query().Get("table")}
	var err error
	if f.PerformerID, err = queryID(r, "performer_id"); err != nil {
		return 0, nil, err
	}
	if f.From, err = queryDate(r, "from"); err != nil {
		return 0, nil, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return 0, nil, err
	}
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		return 0, nil, err
	}
	entries, err := h.svc.Audit.AuditTrail(r.Context(), actor, f)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toAuditEntries(entries), nil
}

func (h *handler) notifications(r *http.Request, actor int64) (int, any, error) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Audit.Notifications(r.Context(), actor, limit)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toNotifications(out), nil
}

func (h *handler) unreadCount(r *http.Request, actor int64) (int, any, error) {
	n, err := h.svc.Audit.UnreadCount(r.Context(), actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]int{"unread": n}, nil
}

func (h *handler) markAllRead(r *http.Request, actor int64) (int, any, error) {
	n, err := h.svc.Audit.MarkAllRead(r.Context(), actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]int64{"marked": n}, nil
}
