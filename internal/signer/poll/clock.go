package poll

import "time"

// Clock abstracts the two timers a polling stage races: the per-tick delay
// and the overall deadline. Tests substitute a fake to advance virtual time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }
