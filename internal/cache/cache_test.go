package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*Cache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](ttl)
	c.now = clock.Now
	return c, clock
}

func TestCache_GetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "alpha")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	c.Set("a", "again")
	v, _ = c.Get("a")
	assert.Equal(t, "again", v)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(5 * time.Minute)
	c.Set("k", "v")

	clock.Advance(4 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("old1", "x")
	c.Set("old2", "y")

	clock.Advance(2 * time.Minute)
	c.Set("fresh", "z")

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "v")
	}

	c.Invalidate("key-3")
	_, ok := c.Get("key-3")
	assert.False(t, ok)

	assert.Equal(t, 9, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(10), c.Stats().Evictions)
}

func TestCache_StartStopsWithContext(t *testing.T) {
	c := New[string](time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Start(ctx, time.Millisecond)
		close(done)
	}()

	c.Set("k", "v")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestCache_StartWithoutIntervalReturns(t *testing.T) {
	c := New[string](0)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor kept running without an interval")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				c.Set(key, g*1000+i)
				if v, ok := c.Get(key); ok {
					assert.GreaterOrEqual(t, v, 0)
				}
				if i%50 == 0 {
					c.Invalidate(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 20)
}

func TestKey(t *testing.T) {
	type params struct {
		IDs   []int   `json:"ids"`
		Limit int     `json:"limit"`
		Alpha float64 `json:"alpha"`
	}

	a, err := Key("rec", params{IDs: []int{1, 2, 3}, Limit: 30, Alpha: 0.7})
	require.NoError(t, err)
	b, err := Key("rec", params{IDs: []int{1, 2, 3}, Limit: 30, Alpha: 0.7})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, len("rec:")+32)

	other, err := Key("rec", params{IDs: []int{1, 2, 3}, Limit: 31, Alpha: 0.7})
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = Key("rec", make(chan int))
	assert.Error(t, err)
}
