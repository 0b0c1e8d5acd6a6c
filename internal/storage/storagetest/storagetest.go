// Package storagetest runs the same behavioural checks against every
// notification store backend.
package storagetest

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the surface every backend implements.
type Store interface {
	UpsertPlan(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error)
	Get(ctx context.Context, eventID string) (models.NotificationRecord, error)
	IsSent(ctx context.Context, eventID string, kind models.Kind) (bool, error)
	MarkSent(ctx context.Context, eventID string, kind models.Kind, at time.Time) error
	DueNow(ctx context.Context, now time.Time, kind models.Kind) iter.Seq2[models.NotificationRecord, error]
}

// Base is the start time most checks plan around.
var Base = time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)

// Record builds an unsent record for an event starting at start.
func Record(id string, start time.Time) models.NotificationRecord {
	return models.NotificationRecord{
		EventID:         id,
		Title:           "Title " + id,
		Link:            "https://meet.example.com/" + id,
		StartTime:       start,
		AnnouncementDue: start.Add(-90 * time.Minute),
		AttendeeDue:     start.Add(-80 * time.Minute),
		CreatedAt:       Base.Add(-24 * time.Hour),
		UpdatedAt:       Base.Add(-24 * time.Hour),
	}
}

// Collect drains a DueNow sequence into event ids.
func Collect(t *testing.T, seq iter.Seq2[models.NotificationRecord, error]) []string {
	t.Helper()
	ids := make([]string, 0)
	for rec, err := range seq {
		require.NoError(t, err)
		ids = append(ids, rec.EventID)
	}
	return ids
}

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertCreatesOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec, created, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, rec.AnnouncementDue.Equal(Base.Add(-90*time.Minute)))

		moved := Record("ev-1", Base.Add(3*time.Hour))
		moved.Title = "Renamed"
		moved.UpdatedAt = Base
		rec, created, err = s.UpsertPlan(ctx, moved)
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, rec.AnnouncementDue.Equal(Base.Add(-90*time.Minute)))
		assert.True(t, rec.AttendeeDue.Equal(Base.Add(-80*time.Minute)))
		assert.True(t, rec.StartTime.Equal(Base))
		assert.Equal(t, "Renamed", rec.Title)

		stored, err := s.Get(ctx, "ev-1")
		require.NoError(t, err)
		assert.True(t, stored.AnnouncementDue.Equal(Base.Add(-90*time.Minute)))
		assert.Equal(t, "Renamed", stored.Title)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	})

	t.Run("DueNowRespectsDueTime", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)

		announcementDue := Base.Add(-90 * time.Minute)
		assert.Empty(t, Collect(t, s.DueNow(ctx, announcementDue.Add(-time.Minute), models.KindAnnouncement)))
		assert.Equal(t, []string{"ev-1"}, Collect(t, s.DueNow(ctx, announcementDue, models.KindAnnouncement)))
		assert.Empty(t, Collect(t, s.DueNow(ctx, announcementDue, models.KindAttendee)))
		assert.Equal(t, []string{"ev-1"}, Collect(t, s.DueNow(ctx, Base.Add(-80*time.Minute), models.KindAttendee)))
	})

	t.Run("DueNowRepeatsUntilMarked", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)

		now := Base.Add(-75 * time.Minute)
		assert.Equal(t, []string{"ev-1"}, Collect(t, s.DueNow(ctx, now, models.KindAnnouncement)))
		assert.Equal(t, []string{"ev-1"}, Collect(t, s.DueNow(ctx, now, models.KindAnnouncement)))

		require.NoError(t, s.MarkSent(ctx, "ev-1", models.KindAnnouncement, now))
		assert.Empty(t, Collect(t, s.DueNow(ctx, now, models.KindAnnouncement)))
		assert.Equal(t, []string{"ev-1"}, Collect(t, s.DueNow(ctx, now, models.KindAttendee)))
	})

	t.Run("MarkSentExcludesForAllNow", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)
		require.NoError(t, s.MarkSent(ctx, "ev-1", models.KindAttendee, Base))

		for _, now := range []time.Time{Base.Add(-80 * time.Minute), Base, Base.AddDate(1, 0, 0)} {
			assert.Empty(t, Collect(t, s.DueNow(ctx, now, models.KindAttendee)))
		}
	})

	t.Run("MarkSentIdempotentAndMonotone", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)

		sent, err := s.IsSent(ctx, "ev-1", models.KindAnnouncement)
		require.NoError(t, err)
		assert.False(t, sent)

		require.NoError(t, s.MarkSent(ctx, "ev-1", models.KindAnnouncement, Base))
		require.NoError(t, s.MarkSent(ctx, "ev-1", models.KindAnnouncement, Base))

		// A later sighting of the same event must not reset the flag.
		rec, created, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, rec.AnnouncementSent)
		assert.False(t, rec.AttendeeSent)

		sent, err = s.IsSent(ctx, "ev-1", models.KindAnnouncement)
		require.NoError(t, err)
		assert.True(t, sent)
		sent, err = s.IsSent(ctx, "ev-1", models.KindAttendee)
		require.NoError(t, err)
		assert.False(t, sent)
	})

	t.Run("MarkSentMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.MarkSent(context.Background(), "nope", models.KindAnnouncement, Base)
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _, err := s.UpsertPlan(ctx, Record("ev-1", Base))
		require.NoError(t, err)

		assert.ErrorIs(t, s.MarkSent(ctx, "ev-1", models.Kind("reminder"), Base), storage.ErrUnknownKind)
		_, err = s.IsSent(ctx, "ev-1", models.Kind("reminder"))
		assert.ErrorIs(t, err, storage.ErrUnknownKind)
	})

	t.Run("DueNowOrdersByDueTime", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, rec := range []models.NotificationRecord{
			Record("late", Base.Add(2*time.Hour)),
			Record("early", Base.Add(-time.Hour)),
			Record("middle", Base),
			Record("future", Base.Add(48*time.Hour)),
		} {
			_, _, err := s.UpsertPlan(ctx, rec)
			require.NoError(t, err)
		}

		assert.Equal(t, []string{"early", "middle", "late"},
			Collect(t, s.DueNow(ctx, Base.Add(2*time.Hour), models.KindAnnouncement)))
	})

	t.Run("DueNowStopsEarly", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			_, _, err := s.UpsertPlan(ctx, Record(id, Base))
			require.NoError(t, err)
		}

		seen := 0
		for _, err := range s.DueNow(ctx, Base, models.KindAnnouncement) {
			require.NoError(t, err)
			seen++
			break
		}
		assert.Equal(t, 1, seen)
	})

	t.Run("ConcurrentUpsertsCreateOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			dues    = make(map[time.Time]struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, ok, err := s.UpsertPlan(ctx, Record("shared", Base.Add(time.Duration(i)*time.Hour)))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if ok {
					created++
				}
				dues[rec.AnnouncementDue.UTC()] = struct{}{}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, dues, 1)
	})
}
