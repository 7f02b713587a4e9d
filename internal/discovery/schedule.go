package discovery

import "time"

const (
	DefaultNotifyInterval     = 1 * time.Second
	DefaultAggressiveInterval = 750 * time.Millisecond
	DefaultAggressiveCycles   = 20
	DefaultSteadyInterval     = 3 * time.Second
)

// Schedule paces membership polling: a burst of fast cycles right after
// entering a room, then a slower steady rate.
type Schedule struct {
	AggressiveInterval time.Duration
	AggressiveCycles   int
	SteadyInterval     time.Duration

	remaining int
}

func NewSchedule() *Schedule {
	s := &Schedule{
		AggressiveInterval: DefaultAggressiveInterval,
		AggressiveCycles:   DefaultAggressiveCycles,
		SteadyInterval:     DefaultSteadyInterval,
	}
	s.Reset()
	return s
}

// Reset re-enters the aggressive phase.
func (s *Schedule) Reset() {
	s.remaining = s.AggressiveCycles
}

// Aggressive reports whether the next cycle is part of the fast burst.
func (s *Schedule) Aggressive() bool {
	return s.remaining > 0
}

// Next returns how long to wait before the next cycle and consumes one
// aggressive cycle if any are left.
func (s *Schedule) Next() time.Duration {
	if s.remaining > 0 {
		s.remaining--
		return s.AggressiveInterval
	}
	return s.SteadyInterval
}
