package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"eventmailer/internal/schedule"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrNoEmailColumn is returned when the sheet header has no email column.
var ErrNoEmailColumn = errors.New("no email column found in sheet")

// DefaultSheetRange is read when no range is configured.
const DefaultSheetRange = "A:Z"

var rowDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// SheetClient reads attendee registrations from a spreadsheet.
type SheetClient struct {
	service   *sheets.Service
	sheetID   string
	readRange string
	planner   *schedule.Planner
	logger    *slog.Logger
}

func NewSheetClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, sheetID, readRange string, planner *schedule.Planner, opts ...option.ClientOption) (*SheetClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	if readRange == "" {
		readRange = DefaultSheetRange
	}
	return &SheetClient{service: service, sheetID: sheetID, readRange: readRange, planner: planner, logger: logger}, nil
}

// AttendeesForDate returns the distinct emails registered for the calendar day of date.
func (c *SheetClient) AttendeesForDate(ctx context.Context, date time.Time) ([]string, error) {
	resp, err := c.service.Spreadsheets.Values.Get(c.sheetID, c.readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %s: %w", schedule.ErrUpstreamUnavailable, c.sheetID, err)
	}

	attendees, err := AttendeesFromRows(resp.Values, date, c.planner)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", c.sheetID, err)
	}
	c.logger.Debug("Read attendees from sheet", "sheetID", c.sheetID, "rows", len(resp.Values), "attendees", len(attendees))
	return attendees, nil
}

// AttendeesFromRows applies the sheet rules to raw values. The first row is the
// header. A zero date disables the date filter.
func AttendeesFromRows(rows [][]interface{}, date time.Time, planner *schedule.Planner) ([]string, error) {
	if len(rows) == 0 {
		return []string{}, nil
	}

	emailIdx, dateIdx := -1, -1
	for i, h := range rows[0] {
		header := strings.ToLower(strings.TrimSpace(cell(h)))
		if strings.Contains(header, "email") {
			emailIdx = i
		}
		if strings.Contains(header, "date") || strings.Contains(header, "preferred") {
			dateIdx = i
		}
	}
	if emailIdx < 0 {
		return nil, ErrNoEmailColumn
	}

	attendees := make([]string, 0, len(rows)-1)
	seen := make(map[string]struct{})
	for _, row := range rows[1:] {
		if len(row) <= emailIdx {
			continue
		}
		email := strings.TrimSpace(cell(row[emailIdx]))
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, dup := seen[key]; dup {
			continue
		}

		if !date.IsZero() && dateIdx >= 0 {
			if len(row) <= dateIdx {
				continue
			}
			rowDate, ok := parseRowDate(cell(row[dateIdx]), planner.Location())
			if !ok || !sameDate(rowDate, date.In(planner.Location())) {
				continue
			}
		}

		seen[key] = struct{}{}
		attendees = append(attendees, email)
	}
	return attendees, nil
}

func parseRowDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range rowDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sameDate compares calendar dates, each in its own zone.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func cell(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
