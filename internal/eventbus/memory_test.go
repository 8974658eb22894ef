package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan v1.Event, 1)
	_, err := bus.Subscribe("agent.spawned", func(_ context.Context, evt v1.Event) error {
		received <- evt
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "agent.spawned", map[string]interface{}{"id": "a1"}))

	select {
	case evt := <-received:
		assert.Equal(t, "agent.spawned", evt.Name)
		assert.Equal(t, "a1", evt.Payload["id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBus_WildcardMatching(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var names []string
	done := make(chan struct{}, 1)

	_, err := bus.Subscribe("task.*", func(_ context.Context, evt v1.Event) error {
		mu.Lock()
		names = append(names, evt.Name)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "task.moved", nil))
	require.NoError(t, bus.Publish(context.Background(), "task.created.extra", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, names, "task.moved")
	assert.NotContains(t, names, "task.created.extra")
}

func TestMemoryBus_QueueGroupRoundRobin(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	wg.Add(10)

	for i := 0; i < 2; i++ {
		idx := i
		_, err := bus.QueueSubscribe("agent.>", "workers", func(_ context.Context, _ v1.Event) error {
			mu.Lock()
			counts[idx]++
			mu.Unlock()
			wg.Done()
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), "agent.spawned", nil))
	}

	waitWithTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, counts, 2)
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for wait group")
	}
}
