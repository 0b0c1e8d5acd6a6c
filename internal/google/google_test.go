package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(code int, message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": message}}
}

func TestCalendarClient_ListEvents(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/team/events"), r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"items": []map[string]any{{
					"id":          "ev-1",
					"summary":     "Community call",
					"hangoutLink": "https://meet.google.com/abc",
					"location":    "Room 1",
					"start":       map[string]any{"dateTime": "2026-03-15T18:30:00+01:00"},
				}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": "ev-2", "summary": "Offsite", "location": "Lyon", "start": map[string]any{"date": "2026-03-16"}},
				{"id": "ev-3", "location": "https://zoom.example.com/x", "start": map[string]any{"dateTime": "2026-03-17T09:00:00", "timeZone": "Europe/Paris"}},
			},
		})
	})

	loc := paris(t)
	c, err := NewCalendarClient(ctx, testLogger(), srv.Client(), "team", loc, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	events, err := c.ListEvents(ctx, time.Date(2026, 3, 15, 0, 0, 0, 0, loc), time.Date(2026, 3, 22, 0, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "https://meet.google.com/abc", events[0].Link)
	assert.True(t, events[0].Start.Equal(time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)))
	assert.True(t, events[0].HasStart())

	assert.True(t, events[1].AllDay)
	assert.False(t, events[1].HasStart())
	assert.Equal(t, "Lyon", events[1].Link)

	assert.Equal(t, "Untitled Event", events[2].Title)
	assert.Equal(t, "https://zoom.example.com/x", events[2].Link)
	assert.True(t, events[2].Start.Equal(time.Date(2026, 3, 17, 8, 0, 0, 0, time.UTC)))
}

func TestCalendarClient_ListEventsUpstreamError(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, apiError(http.StatusForbidden, "forbidden"))
	})

	c, err := NewCalendarClient(ctx, testLogger(), srv.Client(), "team", time.UTC, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	_, err = c.ListEvents(ctx, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, schedule.ErrUpstreamUnavailable)
}

func TestCalendarClient_GetEvent(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/events/missing") {
			writeJSON(w, http.StatusNotFound, apiError(http.StatusNotFound, "Not Found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "ev-1",
			"summary": "Community call",
			"start":   map[string]any{"dateTime": "2026-03-15T18:30:00+01:00"},
		})
	})

	c, err := NewCalendarClient(ctx, testLogger(), srv.Client(), "team", time.UTC, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	ev, err := c.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Community call", ev.Title)

	_, err = c.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, schedule.ErrEventNotFound)
}

func TestAttendeesFromRows(t *testing.T) {
	planner := schedule.NewPlanner(paris(t))
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, planner.Location())

	rows := [][]interface{}{
		{"Name", "Work email", "Contact Email", "Signup date", "Preferred session"},
		{"Ann", "ann@work", "ann@example.com", "2026-01-01", "2026-03-15"},
		{"Bob", "", "bob@example.com", "", "2026-03-15T18:30:00"},
		{"Ann again", "", "ANN@example.com", "", "2026-03-15"},
		{"Cid", "", "cid@example.com", "", "2026-03-16"},
		{"Dee", "", "dee@example.com", "", "next week"},
		{"Eve", "", "   "},
		{"Fay", "", "fay@example.com"},
	}

	got, err := AttendeesFromRows(rows, day, planner)
	require.NoError(t, err)
	assert.Equal(t, []string{"ann@example.com", "bob@example.com"}, got)
}

func TestAttendeesFromRows_NoDateFilter(t *testing.T) {
	planner := schedule.NewPlanner(time.UTC)
	rows := [][]interface{}{
		{"Email"},
		{"a@example.com"},
		{"b@example.com"},
		{"a@example.com"},
	}

	got, err := AttendeesFromRows(rows, time.Time{}, planner)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)
}

func TestAttendeesFromRows_NoEmailColumn(t *testing.T) {
	planner := schedule.NewPlanner(time.UTC)

	_, err := AttendeesFromRows([][]interface{}{{"Name", "Date"}, {"Ann", "2026-03-15"}}, time.Now(), planner)
	assert.ErrorIs(t, err, ErrNoEmailColumn)

	got, err := AttendeesFromRows(nil, time.Now(), planner)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSheetClient_AttendeesForDate(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/spreadsheets/sheet-1/values/")
		writeJSON(w, http.StatusOK, map[string]any{
			"range":          "Sheet1!A1:Z3",
			"majorDimension": "ROWS",
			"values": [][]string{
				{"Email", "Date"},
				{"ann@example.com", "2026-03-15"},
				{"bob@example.com", "2026-03-22"},
			},
		})
	})

	planner := schedule.NewPlanner(paris(t))
	c, err := NewSheetClient(ctx, testLogger(), srv.Client(), "sheet-1", "", planner, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	got, err := c.AttendeesForDate(ctx, time.Date(2026, 3, 15, 18, 30, 0, 0, planner.Location()))
	require.NoError(t, err)
	assert.Equal(t, []string{"ann@example.com"}, got)
}

func TestRawMessage(t *testing.T) {
	raw := RawMessage(models.Message{
		From:    "bot@example.com",
		To:      "ops@example.com",
		Subject: "list_of_attendees_15-03-2026",
		Body:    "ann@example.com\n",
	})

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	text := string(decoded)
	assert.Contains(t, text, "To: ops@example.com\r\n")
	assert.Contains(t, text, "From: bot@example.com\r\n")
	assert.Contains(t, text, "Subject: list_of_attendees_15-03-2026\r\n")
	assert.Contains(t, text, "Content-Type: text/plain")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\nann@example.com\n"))
}

func TestGmailNotifier_Send(t *testing.T) {
	ctx := context.Background()
	var gotRaw string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/send"), r.URL.Path)
		var body struct {
			Raw string `json:"raw"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRaw = body.Raw
		writeJSON(w, http.StatusOK, map[string]any{"id": "msg-1"})
	})

	n, err := NewGmailNotifier(ctx, testLogger(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	msg := models.Message{From: "bot@example.com", To: "ops@example.com", Subject: "s", Body: "b"}
	id, err := n.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, RawMessage(msg), gotRaw)
}

func TestGmailNotifier_SendError(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, apiError(http.StatusBadRequest, "Invalid To header"))
	})

	n, err := NewGmailNotifier(ctx, testLogger(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	_, err = n.Send(ctx, models.Message{To: "nobody"})
	assert.ErrorIs(t, err, schedule.ErrSend)
}

func TestTokenFile(t *testing.T) {
	assert.Equal(t, "token-work.json", TokenFile("work"))
}
