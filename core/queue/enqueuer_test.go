package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/queue"
)

func TestEnqueuer_CreateTask(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})

	t.Run("one active task per order and action", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, enq.CreateTask(ctx, 1, "sync"))
		require.NoError(t, enq.CreateTask(ctx, 1, "sync"))
		require.NoError(t, enq.CreateTask(ctx, 1, "commit"))
		require.NoError(t, enq.CreateTask(ctx, 2, "sync"))

		assert.Len(t, storage.Tasks(1), 2)
		assert.Len(t, storage.Tasks(2), 1)
	})

	t.Run("delay and defaults", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage, queue.WithDefaultMaxAttempts(7))
		require.NoError(t, err)

		before := time.Now()
		require.NoError(t, enq.CreateTask(context.Background(), 5, "cancel", queue.WithDelay(time.Hour)))

		task, ok := storage.ActiveTask(5, "cancel")
		require.True(t, ok)
		assert.Equal(t, queue.TaskStatusPending, task.Status)
		assert.Equal(t, 7, task.MaxAttempts)
		assert.Equal(t, queue.PriorityDefault, task.Priority)
		assert.True(t, task.ScheduledAt.After(before.Add(59*time.Minute)))
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		enq, err := queue.NewEnqueuer(queue.NewMemoryStorage())
		require.NoError(t, err)

		assert.ErrorIs(t, enq.CreateTask(context.Background(), 1, ""), queue.ErrInvalidAction)
		assert.ErrorIs(t, enq.CreateTask(context.Background(), 1, "sync", queue.WithPriority(101)), queue.ErrInvalidPriority)
	})
}

func TestEnqueuer_DeleteTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	require.NoError(t, enq.CreateTask(ctx, 9, "commit"))
	require.NoError(t, enq.CreateTask(ctx, 9, "sync"))
	require.NoError(t, enq.CreateTask(ctx, 9, "cancel", queue.WithDelay(time.Hour)))

	n, err := enq.DeleteTasks(ctx, 9, "commit", "sync", "revalidate")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok := storage.ActiveTask(9, "sync")
	assert.False(t, ok)
	_, ok = storage.ActiveTask(9, "cancel")
	assert.True(t, ok)

	// A stopped task frees the slot.
	require.NoError(t, enq.CreateTask(ctx, 9, "sync"))
	_, ok = storage.ActiveTask(9, "sync")
	assert.True(t, ok)

	t.Run("executing task is not stopped", func(t *testing.T) {
		claimed, err := storage.ClaimTask(ctx, [16]byte{1}, time.Minute)
		require.NoError(t, err)

		n, err := enq.DeleteTasks(ctx, claimed.OrderID, claimed.Action)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("no actions", func(t *testing.T) {
		n, err := enq.DeleteTasks(ctx, 9)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
