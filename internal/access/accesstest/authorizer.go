// Package accesstest provides an in-memory Authorizer for service tests.
package accesstest

import (
	"context"
	"sync"

	"github.com/hackgods/hospital-operations/internal/access"
)

// Authorizer grants capabilities from a static actor -> roles table.
type Authorizer struct {
	mu     sync.Mutex
	actors map[int64][]access.Role
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{actors: map[int64][]access.Role{}}
}

// Grant gives actorID the listed roles and returns actorID for convenience.
func (a *Authorizer) Grant(actorID int64, roles ...access.Role) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actors[actorID] = roles
	return actorID
}

func (a *Authorizer) Require(_ context.Context, actorID int64, c access.Capability) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !access.Can(a.actors[actorID], c) {
		return access.ErrForbidden
	}
	return nil
}
