package tokenpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docvault/engine/pkg/config"
)

func TestDeadlineMatchesSpec(t *testing.T) {
	assert.Equal(t, 11*time.Second, Deadline)
}

func TestCancelPreventsExpiry(t *testing.T) {
	live := config.NewLive(config.LimitsConfig{RecordsPerTokenWorker: 1000, MaxTokenWorkers: 4})
	p := New(live)
	defer p.Stop()

	var fired atomic.Bool
	ticket := p.Schedule(func() { fired.Store(true) })
	ticket.Cancel()

	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTrackResizesWorkersWithinMax(t *testing.T) {
	live := config.NewLive(config.LimitsConfig{RecordsPerTokenWorker: 10, MaxTokenWorkers: 3})
	p := New(live)
	defer p.Stop()

	p.Track(35) // clamp(35/10, 1, 3) = 3

	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	assert.Equal(t, 3, workers)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, clamp(0, 1, 4))
	assert.Equal(t, 4, clamp(100, 1, 4))
	assert.Equal(t, 2, clamp(2, 1, 4))
}
