// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultRetryJitter is the jitter scaler applied to retry intervals.
const DefaultRetryJitter = 0.5

// A compile-time check to ensure that JitterTicker satisfies the ticker.Ticker
// interface.
var _ ticker.Ticker = (*JitterTicker)(nil)

// JitterTicker is a ticker.Ticker whose intervals are drawn uniformly from
// [interval*(1-jitter), interval*(1+jitter)].  It paces redial and resync
// attempts so that many clients losing the same node do not all come back in
// lockstep.  Ticks are dropped while nobody is receiving.
type JitterTicker struct {
	interval time.Duration
	lo, hi   int64

	ticks chan time.Time

	mtx  sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// NewJitterTicker returns a paused JitterTicker.  It panics if jitter is
// negative.
func NewJitterTicker(interval time.Duration, jitter float64) *JitterTicker {
	lo, hi := jitterBounds(interval, jitter)

	return &JitterTicker{
		interval: interval,
		lo:       lo,
		hi:       hi,
		ticks:    make(chan time.Time, 1),
	}
}

// jitterBounds returns the shortest and longest interval in nanoseconds.  The
// shortest is clamped to zero.
func jitterBounds(d time.Duration, jitter float64) (int64, int64) {
	if jitter < 0 {
		panic(errors.New("jitter must be positive"))
	}

	lo := math.Max(0, math.Floor(float64(d)*(1-jitter)))
	hi := math.Ceil(float64(d) * (1 + jitter))

	return int64(lo), int64(hi)
}

// Ticks returns the channel ticks are delivered on.
func (t *JitterTicker) Ticks() <-chan time.Time {
	return t.ticks
}

// Resume starts delivering ticks.  It is a no-op when already running.
func (t *JitterTicker) Resume() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.quit != nil {
		return
	}

	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.quit, t.done)
}

// Pause stops delivering ticks until the next Resume.  No tick is sent after
// it returns, though one sent before may still be buffered.
func (t *JitterTicker) Pause() {
	t.mtx.Lock()
	quit, done := t.quit, t.done
	t.quit, t.done = nil, nil
	t.mtx.Unlock()

	if quit == nil {
		return
	}

	close(quit)
	<-done
}

// Stop pauses the ticker for good.
func (t *JitterTicker) Stop() {
	t.Pause()
}

func (t *JitterTicker) run(quit, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(t.next())
	defer timer.Stop()

	for {
		select {
		case now := <-timer.C:
			select {
			case t.ticks <- now:
			default:
			}
			timer.Reset(t.next())

		case <-quit:
			return
		}
	}
}

// next draws the next interval.
func (t *JitterTicker) next() time.Duration {
	if t.hi == t.lo {
		return t.interval
	}

	return time.Duration(rand.Int63n(t.hi-t.lo) + t.lo) //nolint:gosec
}
