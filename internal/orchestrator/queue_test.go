package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func TestTaskQueue_PriorityOrder(t *testing.T) {
	q := newTaskQueue(0)

	low := &v1.Task{ID: "low", Priority: 1}
	high := &v1.Task{ID: "high", Priority: 10}
	require.NoError(t, q.Enqueue(low))
	time.Sleep(time.Millisecond)
	require.NoError(t, q.Enqueue(high))

	ready := q.PeekReady(func(*v1.Task) bool { return true })
	require.NotNil(t, ready)
	assert.Equal(t, "high", ready.ID)
}

func TestTaskQueue_FIFOWithinSamePriority(t *testing.T) {
	q := newTaskQueue(0)

	first := &v1.Task{ID: "first", Priority: 5}
	require.NoError(t, q.Enqueue(first))
	time.Sleep(time.Millisecond)
	second := &v1.Task{ID: "second", Priority: 5}
	require.NoError(t, q.Enqueue(second))

	ready := q.PeekReady(func(*v1.Task) bool { return true })
	require.NotNil(t, ready)
	assert.Equal(t, "first", ready.ID)
}

func TestTaskQueue_DuplicateRejected(t *testing.T) {
	q := newTaskQueue(0)
	require.NoError(t, q.Enqueue(&v1.Task{ID: "t1"}))
	assert.ErrorIs(t, q.Enqueue(&v1.Task{ID: "t1"}), ErrTaskExists)
}

func TestTaskQueue_MaxSize(t *testing.T) {
	q := newTaskQueue(1)
	require.NoError(t, q.Enqueue(&v1.Task{ID: "t1"}))
	assert.ErrorIs(t, q.Enqueue(&v1.Task{ID: "t2"}), ErrQueueFull)
}

func TestTaskQueue_Remove(t *testing.T) {
	q := newTaskQueue(0)
	require.NoError(t, q.Enqueue(&v1.Task{ID: "t1"}))
	assert.True(t, q.Remove("t1"))
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Remove("t1"))
}

func TestTaskQueue_PeekReadySkipsUnsatisfied(t *testing.T) {
	q := newTaskQueue(0)
	require.NoError(t, q.Enqueue(&v1.Task{ID: "blocked", Priority: 10}))
	require.NoError(t, q.Enqueue(&v1.Task{ID: "ready", Priority: 1}))

	ready := q.PeekReady(func(t *v1.Task) bool { return t.ID == "ready" })
	require.NotNil(t, ready)
	assert.Equal(t, "ready", ready.ID)
}
