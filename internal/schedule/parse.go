package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// naiveLayouts are start time formats that carry no zone offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseStart parses an event start time. Values without a zone are taken
// to be in loc.
func ParseStart(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty start time: %w", ErrMalformedEvent)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("start time %q: %w", raw, ErrMalformedEvent)
}

// ParseDay resolves free text such as "2026-03-15", "March 15, 2026" or
// "tomorrow" to local midnight of that day.
func (p *Planner) ParseDay(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "?"))
	switch strings.ToLower(text) {
	case "":
		return time.Time{}, fmt.Errorf("empty date: %w", ErrUnparseableDate)
	case "today":
		return p.StartOfDay(now), nil
	case "tomorrow":
		return p.StartOfDay(now).AddDate(0, 0, 1), nil
	}

	t, err := dateparse.ParseIn(text, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", text, ErrUnparseableDate)
	}
	return p.StartOfDay(t), nil
}
