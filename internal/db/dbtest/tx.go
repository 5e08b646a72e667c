// Package dbtest holds test doubles for the transaction runner.
package dbtest

import (
	"context"
	"sync"
)

type activeKey struct{}

// TxRunner runs fn inline and counts transactions. Top level transactions are
// serialised, mirroring row locks on one store; nested calls join the outer one.
type TxRunner struct {
	mu      sync.Mutex
	Commits int
	Aborts  int
}

func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(activeKey{}) != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fn(context.WithValue(ctx, activeKey{}, true)); err != nil {
		r.Aborts++
		return err
	}
	r.Commits++
	return nil
}
