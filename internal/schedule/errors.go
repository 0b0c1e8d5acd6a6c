package schedule

import "errors"

var (
	// ErrUpstreamUnavailable wraps failures of the calendar, sheet, mail or auth collaborators.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedEvent marks an event without a usable start time.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrSend marks a notification that the mail transport did not accept.
	ErrSend = errors.New("send failed")
	// ErrEventNotFound is returned by calendar readers for unknown event ids.
	ErrEventNotFound = errors.New("event not found")
	// ErrUnparseableDate is returned when an on-demand date cannot be understood.
	ErrUnparseableDate = errors.New("unparseable date")
	// ErrNoEventOnDate is returned when an on-demand lookup finds nothing.
	ErrNoEventOnDate = errors.New("no event on date")
)
