package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	d := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:slot:5:2024-06-01:3", SlotKey(5, d, 3))
}

func TestNoopLockerRunsFn(t *testing.T) {
	called := false
	err := NoopLocker{}.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}
