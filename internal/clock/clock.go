// Package clock makes time an explicit dependency so tick-age and backoff
// logic can be tested with a fake clock instead of sleeping in real time.
package clock

import "time"

// Clock abstracts time.Now and time.Sleep/After.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time                       { return time.Now() }
func (Real) Sleep(d time.Duration)                { time.Sleep(d) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
