package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterBackoff_BoundsAndCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 500 * time.Millisecond
	rng := newRetryRNG(42)

	prev := time.Duration(0)
	for range 20 {
		next := jitterBackoff(prev, base, backoffMultiplier, capDur, rng)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestJitterBackoff_FirstFailureUsesBase(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, jitterBackoff(0, 100*time.Millisecond, 2, time.Second, nil))
}

func TestJitterBackoff_CapBelowBase(t *testing.T) {
	require.Equal(t, 10*time.Millisecond, jitterBackoff(time.Second, 50*time.Millisecond, 2, 10*time.Millisecond, nil))
}

func TestJitterBackoff_Deterministic(t *testing.T) {
	seq := func() []time.Duration {
		rng := newRetryRNG(7)
		var out []time.Duration
		prev := time.Duration(0)
		for range 8 {
			prev = jitterBackoff(prev, 20*time.Millisecond, backoffMultiplier, time.Second, rng)
			out = append(out, prev)
		}

		return out
	}
	require.Equal(t, seq(), seq())
	require.Nil(t, newRetryRNG(0))
}
