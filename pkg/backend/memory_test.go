package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryCapacity(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	h1, err := m.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = m.BeginTransaction(ctx)
	require.NoError(t, err)

	h3, err := m.BeginTransaction(ctx)
	require.Nil(t, h3)
	require.ErrorIs(t, err, ErrCapacityExhausted)

	require.NoError(t, h1.Commit(ctx))
	_, err = m.BeginTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, m.Open())
}

func TestMemoryCloseTwice(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	h, err := m.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	require.NoError(t, h.Rollback(ctx))
	require.ErrorIs(t, h.Commit(ctx), ErrTxClosed)

	commits, aborts := m.Stats()
	require.Zero(t, commits)
	require.Equal(t, 1, aborts)
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := m.BeginTransaction(ctx)
	require.Nil(t, h)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, m.Open())
}
