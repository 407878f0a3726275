// Package clock provides an injectable time source so the scheduler and
// executor can be tested without sleeping in real time.
package clock

import "time"

// Clock abstracts time.Now and time.After for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *time.Ticker
}

// Real is the production Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Real) NewTicker(d time.Duration) *time.Ticker  { return time.NewTicker(d) }
