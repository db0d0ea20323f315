package tokenbucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to, so refill math is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTryTakeDebits(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	assert.True(t, b.TryTake(4))
	assert.Equal(t, int64(6), b.Available())
	assert.False(t, b.TryTake(7))
	assert.Equal(t, int64(6), b.Available())
}

func TestNoRefillBeforeInterval(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	require.True(t, b.TryTake(5))
	clock.Advance(59 * time.Second)
	assert.Equal(t, int64(5), b.Available())
}

func TestRefillAfterExactlyOneInterval(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	require.True(t, b.TryTake(5))
	clock.Advance(time.Minute)
	assert.Equal(t, int64(7), b.Available())
}

func TestRefillCappedAtCapacity(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	require.True(t, b.TryTake(2))
	// Long idle period: many intervals owed, but never past capacity.
	clock.Advance(3 * time.Hour)
	assert.Equal(t, int64(10), b.Available())
}

func TestLazyRefillCountsWholeIntervals(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(100, 3, time.Minute, clock.Now)

	require.True(t, b.TryTake(50))
	clock.Advance(10*time.Minute + 30*time.Second)
	assert.Equal(t, int64(80), b.Available())
	// The half interval is not lost; 30 more seconds complete it.
	clock.Advance(30 * time.Second)
	assert.Equal(t, int64(83), b.Available())
}

func TestTakeExceedsCapacityFailsFast(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	err := b.Take(context.Background(), 11)
	assert.ErrorIs(t, err, ErrExceedsCapacity)
}

func TestTakeBlocksUntilRefill(t *testing.T) {
	b := NewBucket(2, 2, 20*time.Millisecond)
	require.NoError(t, b.Take(context.Background(), 2))

	start := time.Now()
	require.NoError(t, b.Take(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTakeHonorsContextCancellation(t *testing.T) {
	b := NewBucket(1, 1, time.Hour)
	require.NoError(t, b.Take(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := b.Take(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(100, 1, time.Hour, clock.Now)

	var wg sync.WaitGroup
	var taken sync.Map
	var count int64
	var mu sync.Mutex
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if b.TryTake(1) {
				taken.Store(i, true)
				mu.Lock()
				count++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), count)
	assert.Equal(t, int64(0), b.Available())
}

func TestSetRefillIntervalSettlesOwedTokensFirst(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 2, time.Minute, clock.Now)

	require.True(t, b.TryTake(6))
	clock.Advance(2 * time.Minute)
	b.SetRefillInterval(10 * time.Minute)

	// Two intervals at the old pace were owed before the change.
	assert.Equal(t, int64(8), b.Available())
	assert.Equal(t, 10*time.Minute, b.RefillInterval())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("contact", NewBucket(10, 2, time.Minute))

	b, err := r.Get("contact")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Capacity())

	_, err = r.Get("unknown")
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"contact"}, r.Classes())
}
