// Package audittest provides an in-memory audit.Recorder for service tests.
package audittest

import (
	"context"
	"sync"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/audit"
)

type RoleNotice struct {
	Role    access.Role
	Content string
}

type UserNotice struct {
	UserID  int64
	Content string
}

// Recorder keeps everything it is handed. Fail, when set, is returned by every
// call, which lets tests check that a sink failure aborts the operation.
type Recorder struct {
	mu          sync.Mutex
	Changes     []audit.Change
	Notices     []UserNotice
	RoleNotices []RoleNotice
	Events      []audit.Event
	Fail        error
}

func (r *Recorder) Record(_ context.Context, changes ...audit.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.Changes = append(r.Changes, changes...)
	return nil
}

func (r *Recorder) Notify(_ context.Context, userID int64, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.Notices = append(r.Notices, UserNotice{UserID: userID, Content: content})
	return nil
}

func (r *Recorder) NotifyRole(_ context.Context, role access.Role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.RoleNotices = append(r.RoleNotices, RoleNotice{Role: role, Content: content})
	return nil
}

func (r *Recorder) Emit(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.Events = append(r.Events, ev)
	return nil
}

// EventTypes lists emitted event types in order.
func (r *Recorder) EventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Type)
	}
	return out
}

// ChangesFor returns the recorded changes against table.
func (r *Recorder) ChangesFor(table string) []audit.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Change
	for _, c := range r.Changes {
		if c.Table == table {
			out = append(out, c)
		}
	}
	return out
}
