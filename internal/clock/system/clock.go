// Package system provides the wall-clock implementation of crawl.Clock.
package system

import "time"

// Clock reports the current wall-clock time in UTC.
type Clock struct{}

// New returns a system clock.
func New() Clock { return Clock{} }

// Now returns the current UTC time.
func (Clock) Now() time.Time { return time.Now().UTC() }
