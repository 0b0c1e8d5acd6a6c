package models

import (
	"fmt"
	"time"
)

// Kind is one of the two notifications sent for every event.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindAttendee     Kind = "attendee"
)

// Kinds lists the notification kinds in the order a tick processes them.
var Kinds = []Kind{KindAnnouncement, KindAttendee}

// ParseKind converts a stored kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAnnouncement, KindAttendee:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown notification kind %q", s)
}

// NotificationRecord is the persisted scheduling and dedup state of one event.
type NotificationRecord struct {
	EventID string `json:"event_id"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	// StartTime is the event start committed at first sight.
	StartTime time.Time `json:"start_time"`

	AnnouncementDue time.Time `json:"announcement_due"`
	AttendeeDue     time.Time `json:"attendee_due"`

	AnnouncementSent bool `json:"announcement_sent"`
	AttendeeSent     bool `json:"attendee_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due returns the due time for the given kind.
func (r NotificationRecord) Due(kind Kind) time.Time {
	if kind == KindAttendee {
		return r.AttendeeDue
	}
	return r.AnnouncementDue
}

// Sent reports whether the given kind has been sent.
func (r NotificationRecord) Sent(kind Kind) bool {
	if kind == KindAttendee {
		return r.AttendeeSent
	}
	return r.AnnouncementSent
}

// SetSent flips the sent flag for kind. Flags only ever go from false to true.
func (r *NotificationRecord) SetSent(kind Kind) {
	if kind == KindAttendee {
		r.AttendeeSent = true
		return
	}
	r.AnnouncementSent = true
}

// Message is a rendered email ready for a notifier.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}
