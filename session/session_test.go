package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRegistry(ttl time.Duration) (*Registry, *clock.Mock) {
	clk := clock.NewMock(epoch)
	return NewRegistry(ttl, clk), clk
}

func TestRegistry_CreateAndValidate(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)

	token, err := r.Create(AdminIdentity)
	require.NoError(t, err)
	assert.Len(t, token, TokenBytes*2, "hex-encoded 256-bit token")
	assert.True(t, r.Validate(token))
	assert.Equal(t, 1, r.Count())

	other, err := r.Create(AdminIdentity)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.True(t, r.Validate(token), "a fresh login does not revoke older sessions")
}

func TestRegistry_UnknownToken(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	assert.False(t, r.Validate(""))
	assert.False(t, r.Validate("deadbeef"))
}

func TestRegistry_DestroyThenValidate(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)

	for i := 0; i < 20; i++ {
		token, err := r.Create(AdminIdentity)
		require.NoError(t, err)
		r.Destroy(token)
		assert.False(t, r.Validate(token))
	}
	r.Destroy("never-existed")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_SlidingExpiry(t *testing.T) {
	const ttl = time.Hour
	r, clk := newTestRegistry(ttl)

	token, err := r.Create(AdminIdentity)
	require.NoError(t, err)

	require.True(t, r.Validate(token))
	clk.Advance(ttl - time.Millisecond)
	assert.True(t, r.Validate(token), "valid just before the TTL")

	clk.Advance(ttl - time.Millisecond)
	assert.True(t, r.Validate(token), "each validation slides the window")

	clk.Advance(ttl)
	assert.True(t, r.Alive(token), "exactly TTL idle is still valid")
	clk.Advance(time.Millisecond)
	assert.False(t, r.Validate(token), "idle past TTL")
	assert.Equal(t, 0, r.Count(), "expired session removed lazily")
}

func TestRegistry_LookupSnapshot(t *testing.T) {
	r, clk := newTestRegistry(time.Hour)
	token, err := r.Create(AdminIdentity)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	s, ok := r.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, AdminIdentity, s.Identity)
	assert.Equal(t, epoch, s.CreatedAt)
	assert.Equal(t, epoch.Add(10*time.Minute), s.LastAccess)
	assert.Equal(t, epoch.Add(70*time.Minute), s.ExpiresAt)
}

func TestRegistry_AliveDoesNotRefresh(t *testing.T) {
	r, clk := newTestRegistry(time.Hour)
	token, err := r.Create(AdminIdentity)
	require.NoError(t, err)

	clk.Advance(50 * time.Minute)
	assert.True(t, r.Alive(token))
	clk.Advance(11 * time.Minute)
	assert.False(t, r.Alive(token))
}

func TestRegistry_SweepAndListeners(t *testing.T) {
	r, clk := newTestRegistry(time.Hour)

	var mu sync.Mutex
	var destroyed []string
	r.OnDestroy(func(token string) {
		mu.Lock()
		destroyed = append(destroyed, token)
		mu.Unlock()
	})

	stale, err := r.Create(AdminIdentity)
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	fresh, err := r.Create(AdminIdentity)
	require.NoError(t, err)
	loggedOut, err := r.Create(AdminIdentity)
	require.NoError(t, err)

	r.Destroy(loggedOut)
	clk.Advance(31 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.False(t, r.Alive(stale))
	assert.True(t, r.Alive(fresh))

	mu.Lock()
	assert.ElementsMatch(t, []string{loggedOut, stale}, destroyed)
	mu.Unlock()
}

func TestRegistry_DefaultTTL(t *testing.T) {
	r := NewRegistry(0, nil)
	assert.Equal(t, DefaultTTL, r.TTL())
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r, clk := newTestRegistry(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				token, err := r.Create(AdminIdentity)
				if err != nil {
					t.Error(err)
					return
				}
				r.Validate(token)
				if j%2 == 0 {
					r.Destroy(token)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			r.Sweep()
		}
	}()
	wg.Wait()
	assert.Equal(t, 16*25, r.Count())

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 16*25, r.Sweep())
}

func TestRegistry_RunSweepsUntilCancel(t *testing.T) {
	r, clk := newTestRegistry(time.Hour)
	_, err := r.Create(AdminIdentity)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
