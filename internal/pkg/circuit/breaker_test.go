package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAtThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Hour)
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow(), "open breaker stays shut inside the cool-off")
}

func TestHalfOpenProbeAfterCooloff(t *testing.T) {
	b := NewBreaker("test", 1, 20*time.Millisecond)
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow(), "cool-off elapsed, one probe may pass")
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 20*time.Millisecond)
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 2, time.Hour)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "intervening success wipes the streak")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	b := NewBreaker("test", 0, 0)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}
