// Package schedule turns calendar events into notification due times and
// computes the windows the driver queries.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"eventmailer/internal/models"
)

const (
	// AnnouncementOffset is how long before the event start the announcement fires.
	AnnouncementOffset = 90 * time.Minute
	// AttendeeOffset is how long before the event start the attendee roster fires.
	AttendeeOffset = 80 * time.Minute
	// DueTolerance is the width of the on-time window that starts at a due time.
	// It is two ticks wide so one delayed tick still counts as on time.
	DueTolerance = 2 * time.Minute
	// SweepDays is the length of the weekly sweep window.
	SweepDays = 7
)

// Plan holds the due times computed for one event.
type Plan struct {
	AnnouncementDue time.Time
	AttendeeDue     time.Time
}

// PlanEvent computes the due times of an event. It has no side effects.
func PlanEvent(ev models.Event) (Plan, error) {
	if !ev.HasStart() {
		return Plan{}, fmt.Errorf("event %q has no start time: %w", ev.ID, ErrMalformedEvent)
	}
	return Plan{
		AnnouncementDue: ev.Start.Add(-AnnouncementOffset),
		AttendeeDue:     ev.Start.Add(-AttendeeOffset),
	}, nil
}

// NewRecord builds the record stored the first time an event is seen.
func NewRecord(ev models.Event, now time.Time) (models.NotificationRecord, error) {
	plan, err := PlanEvent(ev)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	return models.NotificationRecord{
		EventID:         ev.ID,
		Title:           ev.Title,
		Link:            ev.Link,
		StartTime:       ev.Start,
		AnnouncementDue: plan.AnnouncementDue,
		AttendeeDue:     plan.AttendeeDue,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DueWindow is the on-time window of a notification due at due.
func DueWindow(due time.Time) Window {
	return Window{Start: due, End: due.Add(DueTolerance)}
}

// Planner computes the calendar windows in a reference timezone.
type Planner struct {
	loc *time.Location
}

// NewPlanner returns a Planner for the given reference timezone.
func NewPlanner(loc *time.Location) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{loc: loc}
}

// Location returns the reference timezone.
func (p *Planner) Location() *time.Location {
	return p.loc
}

// StartOfDay returns local midnight of the day t falls on.
func (p *Planner) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(p.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.loc)
}

// SweepWindow is the weekly check window: today's local midnight plus seven days.
func (p *Planner) SweepWindow(now time.Time) Window {
	start := p.StartOfDay(now)
	return Window{Start: start, End: start.AddDate(0, 0, SweepDays)}
}

// DayWindow spans one calendar day from 00:00:00 to 23:59:59 local time.
func (p *Planner) DayWindow(day time.Time) Window {
	start := p.StartOfDay(day)
	return Window{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Second)}
}

// SameDay reports whether a and b fall on the same local calendar day.
func (p *Planner) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(p.loc).Date()
	by, bm, bd := b.In(p.loc).Date()
	return ay == by && am == bm && ad == bd
}

// SortByStart orders events by start time, breaking ties by id.
func SortByStart(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}

// Earliest returns the earliest timed event and the number of timed events found.
func Earliest(events []models.Event) (models.Event, int, bool) {
	timed := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.HasStart() {
			timed = append(timed, ev)
		}
	}
	if len(timed) == 0 {
		return models.Event{}, 0, false
	}
	SortByStart(timed)
	return timed[0], len(timed), true
}

// Expired reports whether retries for rec should stop: the event started
// more than grace ago.
func Expired(rec models.NotificationRecord, now time.Time, grace time.Duration) bool {
	return !now.Before(rec.StartTime.Add(grace))
}
