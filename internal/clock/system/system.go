// Package system provides the wall clock used for crawl and job timestamps.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Timestamps are persisted as Unix
// seconds, so the zone only matters for logs.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
