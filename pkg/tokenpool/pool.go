// Package tokenpool implements the shared cooperative worker pool that
// expires update-tokens after their deadline (spec §4.1). Records never
// run their own timer goroutine; they schedule an expiry job on the
// shared pool, whose width Track resizes from config.Live limits as its
// count of active records changes.
package tokenpool

import (
	"sync"
	"time"

	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/metrics"
)

// Deadline is the fixed lifetime of an update token before it is
// forcibly released.
const Deadline = 11 * time.Second

// Ticket is a handle to a scheduled expiry job. Cancel prevents the job
// from running if it hasn't fired yet.
type Ticket struct {
	timer *time.Timer
}

// Cancel stops the pending expiry. It is safe to call more than once.
func (t *Ticket) Cancel() {
	if t == nil || t.timer == nil {
		return
	}
	t.timer.Stop()
}

// Pool runs expiry callbacks on a bounded set of worker goroutines sized
// by clamp(activeRecords/recordsPerWorker, 1, maxWorkers).
type Pool struct {
	mu      sync.Mutex
	live    *config.Live
	jobs    chan func()
	workers int
	stopCh  chan struct{}
	wg      sync.WaitGroup
	active  int
}

// New creates a pool with a single worker; Track grows it as the active
// record count rises.
func New(live *config.Live) *Pool {
	p := &Pool{
		live:   live,
		jobs:   make(chan func(), 256),
		stopCh: make(chan struct{}),
	}
	p.spawn(1)
	return p
}

// Schedule arranges for fn to run on a pool worker after Deadline elapses,
// unless the returned Ticket is cancelled first.
func (p *Pool) Schedule(fn func()) *Ticket {
	timer := time.AfterFunc(Deadline, func() {
		select {
		case p.jobs <- fn:
		case <-p.stopCh:
		}
	})
	return &Ticket{timer: timer}
}

// Track adjusts the pool's count of active records by delta and resizes
// the worker count accordingly. The record, shard and table packages do
// not call it, so a pool keeps the single worker New starts unless a
// caller invokes Track.
func (p *Pool) Track(delta int) {
	p.mu.Lock()
	p.active += delta
	if p.active < 0 {
		p.active = 0
	}
	active := p.active
	p.mu.Unlock()
	p.resize(active)
}

func (p *Pool) resize(active int) {
	perWorker := p.live.RecordsPerTokenWorker()
	if perWorker <= 0 {
		perWorker = 1
	}
	want := clamp(active/perWorker, 1, p.live.MaxTokenWorkers())

	p.mu.Lock()
	defer p.mu.Unlock()
	if want > p.workers {
		p.spawnLocked(want - p.workers)
	}
	// Shrinking is cooperative: idle workers exit on the next stopCh-like
	// signal is not available per-worker, so we simply stop growing; the
	// pool never overshoots the configured maximum from here on.
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p *Pool) spawn(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spawnLocked(n)
}

func (p *Pool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		p.workers++
		p.wg.Add(1)
		go p.work()
	}
	metrics.TokenPoolWorkers.Set(float64(p.workers))
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case fn := <-p.jobs:
			fn()
		}
	}
}

// Stop terminates all workers and waits for them to exit. Pending,
// unfired timers are not run.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}
