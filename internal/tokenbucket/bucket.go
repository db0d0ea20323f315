package tokenbucket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExceedsCapacity is returned when a caller asks for more tokens than the
// bucket can ever hold. Blocking would never resolve, so it fails fast.
var ErrExceedsCapacity = errors.New("requested tokens exceed bucket capacity")

// Bucket is a token bucket with lazy, time-based refill. Elapsed wall-clock
// time is divided into whole refill intervals on every access, so the bucket
// stays correct across long idle periods without a background timer.
// All state is mutated inside a single critical section; debits are atomic
// with respect to the refill calculation.
type Bucket struct {
	mu             sync.Mutex
	capacity       int64
	tokens         int64
	refillAmount   int64
	refillInterval time.Duration
	lastRefill     time.Time
	now            func() time.Time
}

func NewBucket(capacity, refillAmount int64, refillInterval time.Duration) *Bucket {
	return newBucket(capacity, refillAmount, refillInterval, time.Now)
}

// newBucket lets tests inject a clock.
func newBucket(capacity, refillAmount int64, refillInterval time.Duration, now func() time.Time) *Bucket {
	return &Bucket{
		capacity:       capacity,
		tokens:         capacity,
		refillAmount:   refillAmount,
		refillInterval: refillInterval,
		lastRefill:     now(),
		now:            now,
	}
}

// refill credits every whole interval elapsed since the last refill.
// Caller must hold b.mu.
func (b *Bucket) refill() {
	elapsed := b.now().Sub(b.lastRefill)
	if elapsed < b.refillInterval {
		return
	}
	intervals := int64(elapsed / b.refillInterval)
	b.tokens += intervals * b.refillAmount
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.refillInterval)
}

// TryTake debits n tokens if they are available right now.
func (b *Bucket) TryTake(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Take blocks cooperatively until n tokens are available, then debits them.
// It wakes at the next refill boundary rather than busy-spinning.
func (b *Bucket) Take(ctx context.Context, n int64) error {
	b.mu.Lock()
	if n > b.capacity {
		b.mu.Unlock()
		return ErrExceedsCapacity
	}
	for {
		b.refill()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		wait := b.lastRefill.Add(b.refillInterval).Sub(b.now())
		b.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		b.mu.Lock()
	}
}

// Available returns a snapshot count without consuming tokens.
func (b *Bucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

func (b *Bucket) Capacity() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// RefillInterval returns the current refill interval.
func (b *Bucket) RefillInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillInterval
}

// SetRefillInterval retunes the bucket pace. Owed refills are settled at the
// old interval first so tokens are neither lost nor invented by the change.
func (b *Bucket) SetRefillInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.refillInterval = d
	b.lastRefill = b.now()
}

// Registry holds one independently configured bucket per action class.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*Bucket)}
}

func (r *Registry) Register(class string, b *Bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[class] = b
}

func (r *Registry) Get(class string) (*Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[class]
	if !ok {
		return nil, fmt.Errorf("no bucket registered for action class %q", class)
	}
	return b, nil
}

// Classes lists the registered action classes.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.buckets))
	for class := range r.buckets {
		classes = append(classes, class)
	}
	return classes
}
