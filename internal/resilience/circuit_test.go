package resilience

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	boom := eris.New("down")
	for i := 0; i < 2; i++ {
		b.Record(boom)
		assert.False(t, b.Open())
		require.NoError(t, b.Allow())
	}

	b.Record(boom)
	assert.True(t, b.Open())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerProbesAfterResetTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	now := time.Now()
	b.nowFunc = func() time.Time { return now }

	b.Record(eris.New("down"))
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Past the reset timeout a probe is admitted.
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	// Failed probe re-opens and resets the clock.
	b.Record(eris.New("still down"))
	now = now.Add(time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Successful probe closes the circuit.
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.False(t, b.Open())
	require.NoError(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(s string) { transitions = append(transitions, s) },
	})

	b.Record(eris.New("one"))
	b.Record(nil)
	b.Record(eris.New("one again"))
	assert.False(t, b.Open())

	b.Record(eris.New("two"))
	assert.True(t, b.Open())
	assert.Equal(t, []string{"open"}, transitions)
}
