package throttle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestThrottle() (*LoginThrottle, *clock.Mock) {
	clk := clock.NewMock(epoch)
	return NewLoginThrottle(LoginConfig{}, clk), clk
}

func TestLoginThrottle_AllowsBeforeThreshold(t *testing.T) {
	lt, _ := newTestThrottle()

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		assert.False(t, lt.RecordAttempt("10.0.0.1", false))
		assert.False(t, lt.IsLocked("10.0.0.1"), "should not lock before reaching max attempts")
	}
	assert.Equal(t, 1, lt.Remaining("10.0.0.1"))
}

func TestLoginThrottle_LocksAtExactlyMaxAttempts(t *testing.T) {
	lt, _ := newTestThrottle()

	for i := 1; i <= DefaultMaxAttempts; i++ {
		lockedNow := lt.RecordAttempt("10.0.0.1", false)
		assert.Equal(t, i == DefaultMaxAttempts, lockedNow, "attempt %d", i)
	}
	require.True(t, lt.IsLocked("10.0.0.1"))
	assert.Equal(t, 0, lt.Remaining("10.0.0.1"))
	assert.Equal(t, DefaultLockout, lt.RetryAfter("10.0.0.1"))
}

func TestLoginThrottle_SuccessResetsCounter(t *testing.T) {
	lt, _ := newTestThrottle()

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		lt.RecordAttempt("10.0.0.1", false)
	}
	lt.RecordAttempt("10.0.0.1", true)
	assert.Equal(t, DefaultMaxAttempts, lt.Remaining("10.0.0.1"))
	assert.Equal(t, 0, lt.Len())

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		lt.RecordAttempt("10.0.0.1", false)
	}
	assert.False(t, lt.IsLocked("10.0.0.1"), "count restarted from zero after success")
}

func TestLoginThrottle_LockoutExpires(t *testing.T) {
	lt, clk := newTestThrottle()

	for i := 0; i < DefaultMaxAttempts; i++ {
		lt.RecordAttempt("10.0.0.1", false)
	}
	clk.Advance(DefaultLockout)
	assert.True(t, lt.IsLocked("10.0.0.1"), "still locked at the boundary")

	clk.Advance(time.Second)
	assert.False(t, lt.IsLocked("10.0.0.1"))
	assert.Equal(t, DefaultMaxAttempts, lt.Remaining("10.0.0.1"))
	assert.Equal(t, time.Duration(0), lt.RetryAfter("10.0.0.1"))
	assert.Equal(t, 0, lt.Len(), "expired lockout reclaimed lazily")
}

func TestLoginThrottle_FailuresWhileLockedDoNotExtend(t *testing.T) {
	lt, clk := newTestThrottle()

	for i := 0; i < DefaultMaxAttempts; i++ {
		lt.RecordAttempt("10.0.0.1", false)
	}
	clk.Advance(10 * time.Minute)
	assert.False(t, lt.RecordAttempt("10.0.0.1", false))
	assert.Equal(t, DefaultLockout-10*time.Minute, lt.RetryAfter("10.0.0.1"))
}

func TestLoginThrottle_IdleCounterReclaimed(t *testing.T) {
	lt, clk := newTestThrottle()

	lt.RecordAttempt("10.0.0.1", false)
	lt.RecordAttempt("10.0.0.2", false)
	require.Equal(t, 2, lt.Len())

	clk.Advance(DefaultIdleTTL + time.Second)
	assert.Equal(t, DefaultMaxAttempts, lt.Remaining("10.0.0.1"), "idle counter read as absent")
	assert.Equal(t, 1, lt.Sweep())
	assert.Equal(t, 0, lt.Len())
}

func TestLoginThrottle_AddressesIndependent(t *testing.T) {
	lt, _ := newTestThrottle()

	for i := 0; i < DefaultMaxAttempts; i++ {
		lt.RecordAttempt("10.0.0.1", false)
	}
	assert.True(t, lt.IsLocked("10.0.0.1"))
	assert.False(t, lt.IsLocked("10.0.0.2"))
}

func TestLoginThrottle_CustomConfig(t *testing.T) {
	clk := clock.NewMock(epoch)
	lt := NewLoginThrottle(LoginConfig{MaxAttempts: 2, Lockout: time.Minute}, clk)
	assert.Equal(t, 2, lt.MaxAttempts())

	lt.RecordAttempt("a", false)
	assert.True(t, lt.RecordAttempt("a", false))
	clk.Advance(time.Minute + time.Second)
	assert.False(t, lt.IsLocked("a"))
}

func TestLoginThrottle_ConcurrentFailuresLockOnce(t *testing.T) {
	lt, _ := newTestThrottle()

	var wg sync.WaitGroup
	var mu sync.Mutex
	lockouts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lt.RecordAttempt("10.0.0.1", false) {
				mu.Lock()
				lockouts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, lockouts)
	assert.True(t, lt.IsLocked("10.0.0.1"))
}

func TestLoginThrottle_SweepConcurrentWithWriters(t *testing.T) {
	lt, clk := newTestThrottle()
	for i := 0; i < 100; i++ {
		lt.RecordAttempt(fmt.Sprintf("10.0.1.%d", i), false)
	}
	clk.Advance(DefaultIdleTTL + time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		lt.Sweep()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			lt.RecordAttempt(fmt.Sprintf("10.0.2.%d", i), false)
		}
	}()
	wg.Wait()
	lt.Sweep()
	assert.Equal(t, 100, lt.Len(), "fresh records survive the sweep")
}

func TestLoginThrottle_RunStopsOnCancel(t *testing.T) {
	lt, _ := newTestThrottle()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lt.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
