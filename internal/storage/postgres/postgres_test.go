package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/storage"
	"eventmailer/internal/storage/storagetest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumns = []string{
	"event_id", "title", "link", "start_time", "announcement_due", "attendee_due",
	"announcement_sent", "attendee_sent", "created_at", "updated_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func recordRow(rec models.NotificationRecord) []driver.Value {
	return []driver.Value{
		rec.EventID, rec.Title, rec.Link, rec.StartTime, rec.AnnouncementDue, rec.AttendeeDue,
		rec.AnnouncementSent, rec.AttendeeSent, rec.CreatedAt, rec.UpdatedAt,
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS event_notifications")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertPlan_Insert(t *testing.T) {
	s, mock := newMockStorage(t)
	rec := storagetest.Record("ev-1", storagetest.Base)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO event_notifications")).
		WithArgs(rec.EventID, rec.Title, rec.Link, rec.StartTime,
			rec.AnnouncementDue, rec.AttendeeDue, rec.CreatedAt, rec.UpdatedAt).
		WillReturnRows(sqlmock.NewRows(append(recordColumns, "inserted")).
			AddRow(append(recordRow(rec), true)...))

	stored, created, err := s.UpsertPlan(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, rec.EventID, stored.EventID)
	assert.True(t, stored.AnnouncementDue.Equal(rec.AnnouncementDue))
}

func TestUpsertPlan_ExistingKeepsDueTimes(t *testing.T) {
	s, mock := newMockStorage(t)
	original := storagetest.Record("ev-1", storagetest.Base)
	original.AnnouncementSent = true
	moved := storagetest.Record("ev-1", storagetest.Base.Add(2*time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (event_id) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows(append(recordColumns, "inserted")).
			AddRow(append(recordRow(original), false)...))

	stored, created, err := s.UpsertPlan(context.Background(), moved)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, stored.AnnouncementDue.Equal(original.AnnouncementDue))
	assert.True(t, stored.AnnouncementSent)
}

func TestMarkSent(t *testing.T) {
	s, mock := newMockStorage(t)
	at := storagetest.Base

	mock.ExpectExec(regexp.QuoteMeta("SET attendee_sent = TRUE")).
		WithArgs("ev-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkSent(context.Background(), "ev-1", models.KindAttendee, at))
}

func TestMarkSent_AlreadySent(t *testing.T) {
	s, mock := newMockStorage(t)
	rec := storagetest.Record("ev-1", storagetest.Base)
	rec.AnnouncementSent = true

	mock.ExpectExec(regexp.QuoteMeta("SET announcement_sent = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM event_notifications WHERE event_id = $1")).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(recordRow(rec)...))

	require.NoError(t, s.MarkSent(context.Background(), "ev-1", models.KindAnnouncement, storagetest.Base))
}

func TestMarkSent_Missing(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("SET announcement_sent = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM event_notifications WHERE event_id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	err := s.MarkSent(context.Background(), "nope", models.KindAnnouncement, storagetest.Base)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestMarkSent_UnknownKind(t *testing.T) {
	s, _ := newMockStorage(t)

	err := s.MarkSent(context.Background(), "ev-1", models.Kind("reminder"), storagetest.Base)
	assert.ErrorIs(t, err, storage.ErrUnknownKind)
}

func TestIsSent(t *testing.T) {
	s, mock := newMockStorage(t)
	rec := storagetest.Record("ev-1", storagetest.Base)
	rec.AttendeeSent = true

	mock.ExpectQuery(regexp.QuoteMeta("FROM event_notifications WHERE event_id = $1")).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(recordRow(rec)...))

	sent, err := s.IsSent(context.Background(), "ev-1", models.KindAttendee)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestDueNow(t *testing.T) {
	s, mock := newMockStorage(t)
	now := storagetest.Base
	first := storagetest.Record("early", now.Add(-time.Hour))
	second := storagetest.Record("middle", now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE attendee_due <= $1 AND NOT attendee_sent")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(recordRow(first)...).
			AddRow(recordRow(second)...))

	ids := storagetest.Collect(t, s.DueNow(context.Background(), now, models.KindAttendee))
	assert.Equal(t, []string{"early", "middle"}, ids)
}

func TestDueNow_QueryError(t *testing.T) {
	s, mock := newMockStorage(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE announcement_due <= $1")).
		WillReturnError(boom)

	var got []error
	for _, err := range s.DueNow(context.Background(), storagetest.Base, models.KindAnnouncement) {
		got = append(got, err)
	}
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], boom)
}
