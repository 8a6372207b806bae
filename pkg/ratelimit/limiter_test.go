package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColdBucketAllowsMaxUses(t *testing.T) {
	b := NewBucket(5, time.Minute)
	start := nowMillis()

	for i := 0; i < 5; i++ {
		d := b.takeAt(start)
		assert.Truef(t, d.Fit, "call %d should fit", i)
	}
}

func TestSustainedRateNeverExceedsMax(t *testing.T) {
	b := NewBucket(5, time.Minute)
	start := nowMillis()

	fits := 0
	for i := 0; i < 5; i++ {
		if b.takeAt(start).Fit {
			fits++
		}
	}
	require.Equal(t, 5, fits)

	// immediate 6th call in the same instant must not fit
	assert.False(t, b.takeAt(start).Fit)
}

func TestBurstCapDoublesMaxUses(t *testing.T) {
	b := NewBucket(5, time.Minute)
	start := nowMillis()

	fits := 0
	for i := 0; i < 20; i++ {
		if b.takeAt(start).Fit {
			fits++
		}
	}
	assert.LessOrEqual(t, fits, 10, "burst cap is 2*maxUses")
}

func TestRemainingUsesDecreases(t *testing.T) {
	b := NewBucket(5, time.Minute)
	start := nowMillis()

	first := b.takeAt(start)
	second := b.takeAt(start)
	assert.GreaterOrEqual(t, first.RemainingUses, second.RemainingUses)
}

func TestRegistryCreatesPerKeyBuckets(t *testing.T) {
	r := NewRegistry(2, time.Minute)

	assert.True(t, r.Take("user-a").Fit)
	assert.True(t, r.Take("user-a").Fit)
	assert.False(t, r.Take("user-a").Fit)

	// a different key has its own independent bucket
	assert.True(t, r.Take("user-b").Fit)
}
