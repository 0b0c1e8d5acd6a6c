package models

import "time"

// Event represents a calendar event as seen by the scheduler.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID     string    // Stable identifier from the source calendar
	Title  string    // Summary or title of the event
	Start  time.Time // Start time; zero when the event has no timed start (all-day or malformed)
	Link   string    // Meeting link, falling back to the location
	AllDay bool      // True for date-only events
	Source string    // The source of the event (e.g., "google", "caldav")
}

// HasStart reports whether the event carries a usable start time.
func (e Event) HasStart() bool {
	return !e.AllDay && !e.Start.IsZero()
}
