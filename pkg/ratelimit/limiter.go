// Package ratelimit implements the token-bucket-with-sliding-refill
// limiter described in spec §4.7: a bucket admits a short burst of up to
// 2*maxUses requests, but its sustained rate never exceeds maxUses per
// window.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the window size used when a caller doesn't specify one.
const DefaultWindow = time.Minute

// Decision is the result of a single Take() call.
type Decision struct {
	Fit           bool
	RemainingUses int
	ResetTime     time.Time
}

// Bucket is a single sliding-refill token bucket.
type Bucket struct {
	mu            sync.Mutex
	windowMillis  float64
	cost          float64 // W / maxUses
	cursorMillis  float64 // F
	maxUses       int
}

// NewBucket creates a bucket allowing maxUses requests per window.
func NewBucket(maxUses int, window time.Duration) *Bucket {
	if maxUses <= 0 {
		maxUses = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	w := float64(window.Milliseconds())
	return &Bucket{
		windowMillis: w,
		cost:         w / float64(maxUses),
		maxUses:      maxUses,
	}
}

// Take advances the bucket's cursor and reports whether this call fits
// within the configured rate, per the §4.7 formula:
//
//	F ← max(F, now) + c, clamped at now + 2W
//	fit iff F ≤ now + W
func (b *Bucket) Take() Decision {
	return b.takeAt(nowMillis())
}

func (b *Bucket) takeAt(now float64) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	cursor := b.cursorMillis
	if cursor < now {
		cursor = now
	}
	cursor += b.cost

	if max := now + 2*b.windowMillis; cursor > max {
		cursor = max
	}
	b.cursorMillis = cursor

	fit := cursor <= now+b.windowMillis

	remaining := (now + b.windowMillis - cursor) / b.cost
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Fit:           fit,
		RemainingUses: int(remaining),
		ResetTime:     millisToTime(cursor),
	}
}

func nowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}

func millisToTime(ms float64) time.Time {
	return time.Unix(0, int64(ms)*int64(time.Millisecond))
}

// Registry holds one bucket per principal (user ID or IP literal),
// created lazily on first use with the registry's default sizing.
type Registry struct {
	mu          sync.Mutex
	buckets     map[string]*Bucket
	defaultSize int
	window      time.Duration
}

// NewRegistry creates a bucket registry.
func NewRegistry(defaultSize int, window time.Duration) *Registry {
	return &Registry{
		buckets:     make(map[string]*Bucket),
		defaultSize: defaultSize,
		window:      window,
	}
}

// Take consumes one unit from key's bucket, creating it on first use.
func (r *Registry) Take(key string) Decision {
	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		b = NewBucket(r.defaultSize, r.window)
		r.buckets[key] = b
	}
	r.mu.Unlock()
	return b.Take()
}

// SetDefaultSize updates the size used for newly created buckets; existing
// buckets are unaffected until they are next recreated, matching §5's
// "changes take effect on next use" rule.
func (r *Registry) SetDefaultSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultSize = size
}

// Forget drops a principal's bucket, e.g. when a user's bucket size changes.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}

// DefaultSize reports the bucket size newly created buckets receive.
func (r *Registry) DefaultSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultSize
}
