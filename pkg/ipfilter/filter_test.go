package ipfilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func banAfter10() int { return 10 }

func TestBanEscalationAfterThreshold(t *testing.T) {
	f := New(zap.NewNop(), banAfter10)

	for i := 0; i < 9; i++ {
		f.Flag("198.51.100.7")
		assert.False(t, f.IsBanned("198.51.100.7"))
	}
	f.Flag("198.51.100.7")
	assert.True(t, f.IsBanned("198.51.100.7"))
}

func TestAllowlistedIPCannotBeFlagged(t *testing.T) {
	f := New(zap.NewNop(), banAfter10)
	f.Allow("203.0.113.5")

	for i := 0; i < 50; i++ {
		f.Flag("203.0.113.5")
	}
	assert.False(t, f.IsBanned("203.0.113.5"))
	assert.False(t, f.IsFlagged("203.0.113.5"))
}

func TestPermanentBan(t *testing.T) {
	f := New(zap.NewNop(), banAfter10)
	f.Ban("203.0.113.9", 0)
	assert.True(t, f.IsBanned("203.0.113.9"))
}

func TestUnban(t *testing.T) {
	f := New(zap.NewNop(), banAfter10)
	f.Ban("203.0.113.9", time.Hour)
	f.Unban("203.0.113.9")
	assert.False(t, f.IsBanned("203.0.113.9"))
}

func TestExtendBan(t *testing.T) {
	f := New(zap.NewNop(), banAfter10)
	f.Ban("203.0.113.9", time.Minute)
	require.NoError(t, f.ExtendBan("203.0.113.9", time.Hour))
	assert.True(t, f.IsBanned("203.0.113.9"))
}

func TestValidIP(t *testing.T) {
	assert.True(t, ValidIP("198.51.100.7"))
	assert.True(t, ValidIP("2001:db8::1"))
	assert.False(t, ValidIP("not-an-ip"))
}
