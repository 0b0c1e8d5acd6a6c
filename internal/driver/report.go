package driver

import (
	"fmt"
	"strings"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"
)

// Summary is the outcome of one weekly check.
type Summary struct {
	RunID    string
	Window   schedule.Window
	Location *time.Location

	New      []models.NotificationRecord
	Existing []models.NotificationRecord
	// Skipped events have no timed start.
	Skipped []models.Event
	// Failed events could not be stored and are picked up by the next check.
	Failed []models.Event
}

// String renders the acknowledgement sent back to the operator.
func (s Summary) String() string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Week of %s to %s (%s)\n",
		s.Window.Start.In(loc).Format("Mon 02 Jan"),
		s.Window.End.In(loc).Add(-time.Second).Format("Mon 02 Jan 2006"),
		loc,
	)
	if len(s.New)+len(s.Existing)+len(s.Skipped)+len(s.Failed) == 0 {
		b.WriteString("No events found.\n")
		return b.String()
	}

	writeRecords(&b, "Newly scheduled", s.New, loc)
	writeRecords(&b, "Already scheduled", s.Existing, loc)
	writeEvents(&b, "Skipped (no start time)", s.Skipped)
	writeEvents(&b, "Not stored, will retry", s.Failed)
	return b.String()
}

func writeRecords(b *strings.Builder, title string, recs []models.NotificationRecord, loc *time.Location) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d):\n", title, len(recs))
	for _, r := range recs {
		fmt.Fprintf(b, "  - %s %s: announcement %s%s, attendees %s%s\n",
			r.StartTime.In(loc).Format("Mon 02 Jan 15:04"),
			r.Title,
			r.AnnouncementDue.In(loc).Format("15:04"), sentMark(r.AnnouncementSent),
			r.AttendeeDue.In(loc).Format("15:04"), sentMark(r.AttendeeSent),
		)
	}
}

func writeEvents(b *strings.Builder, title string, events []models.Event) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d):\n", title, len(events))
	for _, ev := range events {
		fmt.Fprintf(b, "  - %s [%s]\n", ev.Title, ev.ID)
	}
}

func sentMark(sent bool) string {
	if sent {
		return " (sent)"
	}
	return ""
}

// TickReport is the outcome of one due check.
type TickReport struct {
	RunID string
	Now   time.Time
	// Overlapped is set when the tick did nothing because another was running.
	Overlapped bool

	Sent    []Delivery
	Failed  []Failure
	Expired []Pending
	// Errors are store read failures that cut a kind short.
	Errors []error
}

// Delivery is one notification accepted by the notifier.
type Delivery struct {
	EventID   string
	Title     string
	Kind      models.Kind
	MessageID string
	Timing    string
	Attendees int
}

type Failure struct {
	EventID string
	Kind    models.Kind
	Err     error
}

// Pending is a notification left unsent.
type Pending struct {
	EventID string
	Kind    models.Kind
	Due     time.Time
}

func (r TickReport) String() string {
	if r.Overlapped {
		return "skipped: another due check is running\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Due check at %s: %d sent, %d failed, %d expired\n",
		r.Now.Format(time.RFC3339), len(r.Sent), len(r.Failed), len(r.Expired))
	for _, d := range r.Sent {
		fmt.Fprintf(&b, "  sent %s for %q (%s, message %s)\n", d.Kind, d.Title, d.Timing, d.MessageID)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "  failed %s for %s: %v\n", f.Kind, f.EventID, f.Err)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "  error: %v\n", err)
	}
	return b.String()
}
