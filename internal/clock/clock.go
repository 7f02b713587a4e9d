// Package clock lets the discovery loops and connection timeouts run
// against either wall time or a manually advanced fake.
package clock

import "time"

// Clock is the subset of the time package the mesh depends on.
type Clock interface {
	Now() time.Time
	// After fires once on the returned channel after d. A non-positive
	// d fires immediately.
	After(d time.Duration) <-chan time.Time
	// NewTicker panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C has capacity 1 and ticks are
// dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
