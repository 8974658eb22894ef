package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCircuitBreaker_TenTerminationsInTenSeconds exercises scenario S5:
// maxRestarts=5, restartWindow=30s, restartBackoff=60s. The first 5 exits
// each get a restart; the 6th trips the breaker.
func TestCircuitBreaker_TenTerminationsInTenSeconds(t *testing.T) {
	b := NewCircuitBreaker(5, 30*time.Second, 60*time.Second)
	start := time.Now()

	var restarts int
	var tripped bool
	for i := 0; i < 10; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		if b.Open(now) {
			continue
		}
		if b.RecordExit(now) {
			restarts++
		} else {
			tripped = true
			break
		}
	}

	assert.Equal(t, 5, restarts)
	assert.True(t, tripped)
	assert.True(t, b.Open(start.Add(9*time.Second)))
}

func TestCircuitBreaker_BoundaryExactlyMaxRestartsAllowsAll(t *testing.T) {
	b := NewCircuitBreaker(5, 30*time.Second, 60*time.Second)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, b.RecordExit(now.Add(time.Duration(i)*time.Second)))
	}
	assert.False(t, b.Open(now.Add(5*time.Second)))
}

func TestCircuitBreaker_MaxRestartsPlusOneTrips(t *testing.T) {
	b := NewCircuitBreaker(5, 30*time.Second, 60*time.Second)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, b.RecordExit(now.Add(time.Duration(i)*time.Second)))
	}
	assert.False(t, b.RecordExit(now.Add(5*time.Second)))
}

func TestCircuitBreaker_ResumesAfterBackoffElapses(t *testing.T) {
	b := NewCircuitBreaker(2, 10*time.Second, 20*time.Second)
	now := time.Now()
	assert.True(t, b.RecordExit(now))
	assert.True(t, b.RecordExit(now.Add(1*time.Second)))
	assert.False(t, b.RecordExit(now.Add(2*time.Second)))

	afterBackoff := now.Add(2*time.Second + 21*time.Second)
	assert.False(t, b.Open(afterBackoff))
	assert.True(t, b.RecordExit(afterBackoff))
}

func TestCircuitBreaker_ExitsOutsideWindowDoNotAccumulate(t *testing.T) {
	b := NewCircuitBreaker(2, 5*time.Second, 10*time.Second)
	now := time.Now()
	assert.True(t, b.RecordExit(now))
	assert.True(t, b.RecordExit(now.Add(20*time.Second)))
	assert.True(t, b.RecordExit(now.Add(21*time.Second)))
}

func TestCircuitBreaker_GracefulExitsDoNotCount(t *testing.T) {
	b := NewCircuitBreaker(1, 30*time.Second, 60*time.Second)
	now := time.Now()
	assert.True(t, b.RecordExit(now))
	b.Reset()
	assert.True(t, b.RecordExit(now.Add(1*time.Second)))
}
