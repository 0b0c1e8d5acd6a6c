package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CalendarClient reads events from one Google calendar.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
	logger     *slog.Logger
}

// NewCalendarClient creates a calendar reader on top of an authenticated HTTP client.
// Extra options are appended after the HTTP client.
func NewCalendarClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, calendarID string, loc *time.Location, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, calendarID: calendarID, loc: loc, logger: logger}, nil
}

// ListEvents fetches the single (expanded) events starting within [timeMin, timeMax].
func (c *CalendarClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "timeMin", timeMin, "timeMax", timeMax)

	var events []models.Event
	err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				events = append(events, c.toInternalEvent(item))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve events: %w", schedule.ErrUpstreamUnavailable, err)
	}

	c.logger.Info("Fetched events from Google Calendar", "count", len(events), "calendarID", c.calendarID)
	return events, nil
}

// GetEvent fetches a single event by id.
func (c *CalendarClient) GetEvent(ctx context.Context, eventID string) (models.Event, error) {
	item, err := c.service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return models.Event{}, fmt.Errorf("event %s: %w", eventID, schedule.ErrEventNotFound)
		}
		return models.Event{}, fmt.Errorf("%w: failed to get event %s: %w", schedule.ErrUpstreamUnavailable, eventID, err)
	}
	return c.toInternalEvent(item), nil
}

// toInternalEvent converts a Google event. Events without a timed start are
// returned with a zero Start so the planner can skip and log them.
func (c *CalendarClient) toInternalEvent(item *calendar.Event) models.Event {
	event := models.Event{
		ID:     item.Id,
		Title:  item.Summary,
		Link:   item.HangoutLink,
		Source: "google-" + c.calendarID,
	}
	if event.Link == "" {
		event.Link = item.Location
	}
	if event.Title == "" {
		event.Title = "Untitled Event"
	}

	switch {
	case item.Start == nil:
	case item.Start.DateTime == "" && item.Start.Date != "":
		event.AllDay = true
	default:
		start, err := schedule.ParseStart(item.Start.DateTime, c.eventLocation(item.Start.TimeZone))
		if err != nil {
			c.logger.Warn("Unparseable event start", "id", item.Id, "start", item.Start.DateTime, "error", err)
			break
		}
		event.Start = start
	}
	return event
}

// eventLocation resolves the event's own time zone, falling back to the reference zone.
func (c *CalendarClient) eventLocation(name string) *time.Location {
	if name == "" {
		return c.loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return c.loc
	}
	return loc
}
