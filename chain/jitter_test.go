package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestJitterBounds tests the calculation of the shortest and longest
// intervals.
func TestJitterBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		jitter float64
		lo, hi int64
	}{
		{name: "no jitter", jitter: 0, lo: 1000, hi: 1000},
		{name: "half", jitter: 0.5, lo: 500, hi: 1500},
		{name: "full", jitter: 1, lo: 0, hi: 2000},
		{name: "above one", jitter: 1.5, lo: 0, hi: 2500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lo, hi := jitterBounds(1000, tc.jitter)
			require.Equal(t, tc.lo, lo)
			require.Equal(t, tc.hi, hi)
		})
	}

	require.Panics(t, func() {
		jitterBounds(1000, -0.5)
	})
}

// TestJitterTicker checks ticks only arrive while resumed and keep to the
// lower jitter bound.
func TestJitterTicker(t *testing.T) {
	t.Parallel()

	ticker := NewJitterTicker(20*time.Millisecond, DefaultRetryJitter)
	defer ticker.Stop()

	select {
	case <-ticker.Ticks():
		t.Fatalf("tick before resume")
	case <-time.After(60 * time.Millisecond):
	}

	ticker.Resume()
	ticker.Resume()

	prev := time.Now()
	for i := 0; i < 3; i++ {
		select {
		case tick := <-ticker.Ticks():
			// The lower bound is exact, scheduling may only add delay.
			require.GreaterOrEqual(t, tick.Sub(prev),
				10*time.Millisecond-time.Millisecond)
			prev = tick

		case <-time.After(testTimeout):
			t.Fatalf("ticker did not fire")
		}
	}

	ticker.Pause()

	// Drain a tick that may have been buffered before the pause.
	select {
	case <-ticker.Ticks():
	default:
	}

	select {
	case <-ticker.Ticks():
		t.Fatalf("tick after pause")
	case <-time.After(100 * time.Millisecond):
	}

	// Ticks come back after resuming.
	ticker.Resume()
	select {
	case <-ticker.Ticks():
	case <-time.After(testTimeout):
		t.Fatalf("ticker did not fire after resume")
	}
}
