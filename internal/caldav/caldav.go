// Package caldav reads events from a CalDAV calendar (iCloud, Nextcloud, Fastmail...).
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// ICloudEndpoint is used when no server URL is configured.
const ICloudEndpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "eventmailer/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a read-only calendar source backed by CalDAV.
type Client struct {
	client       *caldav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
}

// NewClient connects to endpoint and resolves the calendar by display name.
// An empty name selects the first calendar of the account.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*Client, error) {
	if endpoint == "" {
		endpoint = ICloudEndpoint
	}
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &customTransport{
			Username:  username,
			Password:  password,
			Transport: http.DefaultTransport,
		},
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := &Client{client: caldavClient, logger: logger, loc: loc}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName, "endpoint", endpoint)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("%w: could not find calendar '%s': %w", schedule.ErrUpstreamUnavailable, calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// ListEvents returns the events starting within [timeMin, timeMax].
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	query := eventQuery(caldav.CompFilter{Name: ical.CompEvent, Start: timeMin, End: timeMax})

	objects, err := c.client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query calendar: %w", schedule.ErrUpstreamUnavailable, err)
	}

	events := c.eventsFromObjects(objects)
	c.logger.Info("Fetched events from CalDAV", "count", len(events), "path", c.calendarPath)
	return events, nil
}

// GetEvent looks an event up by its UID.
func (c *Client) GetEvent(ctx context.Context, eventID string) (models.Event, error) {
	query := eventQuery(caldav.CompFilter{
		Name:  ical.CompEvent,
		Props: []caldav.PropFilter{{Name: ical.PropUID, TextMatch: &caldav.TextMatch{Text: eventID}}},
	})

	objects, err := c.client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: failed to get event %s: %w", schedule.ErrUpstreamUnavailable, eventID, err)
	}
	for _, ev := range c.eventsFromObjects(objects) {
		if ev.ID == eventID {
			return ev, nil
		}
	}
	return models.Event{}, fmt.Errorf("event %s: %w", eventID, schedule.ErrEventNotFound)
}

func eventQuery(filter caldav.CompFilter) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropUID, ical.PropSummary, ical.PropDateTimeStart, ical.PropLocation, ical.PropURL},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{filter},
		},
	}
}

func (c *Client) eventsFromObjects(objects []caldav.CalendarObject) []models.Event {
	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ve := range obj.Data.Events() {
			events = append(events, c.toInternalEvent(ve))
		}
	}
	return events
}

// toInternalEvent converts a VEVENT. All-day and unparseable starts leave Start zero.
func (c *Client) toInternalEvent(ve ical.Event) models.Event {
	event := models.Event{Source: "caldav"}
	event.ID, _ = ve.Props.Text(ical.PropUID)
	event.Title, _ = ve.Props.Text(ical.PropSummary)
	if event.Title == "" {
		event.Title = "Untitled Event"
	}
	if u, err := ve.Props.Text(ical.PropURL); err == nil && u != "" {
		event.Link = u
	} else {
		event.Link, _ = ve.Props.Text(ical.PropLocation)
	}

	prop := ve.Props.Get(ical.PropDateTimeStart)
	switch {
	case prop == nil:
	case prop.ValueType() == ical.ValueDate || len(strings.TrimSpace(prop.Value)) == len("20060102"):
		event.AllDay = true
	default:
		start, err := ve.DateTimeStart(c.loc)
		if err != nil {
			c.logger.Warn("Unparseable event start", "uid", event.ID, "start", prop.Value, "error", err)
			break
		}
		event.Start = start
	}
	return event
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if name == "" || cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
