package service

import "time"

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T. Used by tests and replay tooling.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
