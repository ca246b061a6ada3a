// Package system provides a real clock implementation.
package system

import (
	"fmt"
	"time"
)

// Clock implements appraiser.Clock using time.Now in a fixed location.
// Calendar days (quota counters, rate refreshes) follow that location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock in loc. A nil loc uses time.Local.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// LoadLocation resolves a timezone name; empty or "Local" mean time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}
