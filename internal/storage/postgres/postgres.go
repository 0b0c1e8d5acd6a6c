// Package postgres stores notification records in one PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/storage"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_notifications (
	event_id          TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL DEFAULT '',
	start_time        TIMESTAMPTZ NOT NULL,
	announcement_due  TIMESTAMPTZ NOT NULL,
	attendee_due      TIMESTAMPTZ NOT NULL,
	announcement_sent BOOLEAN NOT NULL DEFAULT FALSE,
	attendee_sent     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS event_notifications_announcement_pending
	ON event_notifications (announcement_due) WHERE NOT announcement_sent;
CREATE INDEX IF NOT EXISTS event_notifications_attendee_pending
	ON event_notifications (attendee_due) WHERE NOT attendee_sent;
`

const columns = `event_id, title, link, start_time, announcement_due, attendee_due,
	announcement_sent, attendee_sent, created_at, updated_at`

// The conflict branch never touches due times or sent flags. xmax is zero
// only for a freshly inserted row.
const upsertQuery = `INSERT INTO event_notifications (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7, $8)
ON CONFLICT (event_id) DO UPDATE
	SET title = EXCLUDED.title, link = EXCLUDED.link, updated_at = EXCLUDED.updated_at
RETURNING ` + columns + `, (xmax = 0) AS inserted`

const getQuery = `SELECT ` + columns + ` FROM event_notifications WHERE event_id = $1`

// Per-kind statements. The kind never reaches the SQL text from outside.
var (
	markSentQueries = map[models.Kind]string{
		models.KindAnnouncement: `UPDATE event_notifications SET announcement_sent = TRUE, updated_at = $2
			WHERE event_id = $1 AND NOT announcement_sent`,
		models.KindAttendee: `UPDATE event_notifications SET attendee_sent = TRUE, updated_at = $2
			WHERE event_id = $1 AND NOT attendee_sent`,
	}
	dueQueries = map[models.Kind]string{
		models.KindAnnouncement: `SELECT ` + columns + ` FROM event_notifications
			WHERE announcement_due <= $1 AND NOT announcement_sent
			ORDER BY announcement_due, event_id`,
		models.KindAttendee: `SELECT ` + columns + ` FROM event_notifications
			WHERE attendee_due <= $1 AND NOT attendee_sent
			ORDER BY attendee_due, event_id`,
	}
)

type Storage struct {
	db *sql.DB
}

// Open connects with a lib/pq DSN and checks the connection.
func Open(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.Open"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Migrate creates the table and indexes if they do not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpsertPlan(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error) {
	const op = "storage.postgres.UpsertPlan"

	var (
		stored   models.NotificationRecord
		inserted bool
	)
	row := s.db.QueryRowContext(ctx, upsertQuery,
		rec.EventID, rec.Title, rec.Link, rec.StartTime,
		rec.AnnouncementDue, rec.AttendeeDue, rec.CreatedAt, rec.UpdatedAt,
	)
	if err := row.Scan(append(scanTargets(&stored), &inserted)...); err != nil {
		return models.NotificationRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return stored, inserted, nil
}

func (s *Storage) Get(ctx context.Context, eventID string) (models.NotificationRecord, error) {
	const op = "storage.postgres.Get"

	var rec models.NotificationRecord
	if err := s.db.QueryRowContext(ctx, getQuery, eventID).Scan(scanTargets(&rec)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) IsSent(ctx context.Context, eventID string, kind models.Kind) (bool, error) {
	if err := storage.CheckKind(kind); err != nil {
		return false, fmt.Errorf("storage.postgres.IsSent: %w", err)
	}
	rec, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	return rec.Sent(kind), nil
}

func (s *Storage) MarkSent(ctx context.Context, eventID string, kind models.Kind, at time.Time) error {
	const op = "storage.postgres.MarkSent"

	query, ok := markSentQueries[kind]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.CheckKind(kind))
	}

	res, err := s.db.ExecContext(ctx, query, eventID, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either already sent or no such record.
	if _, err := s.Get(ctx, eventID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DueNow runs the query when iteration starts and streams the rows.
func (s *Storage) DueNow(ctx context.Context, now time.Time, kind models.Kind) iter.Seq2[models.NotificationRecord, error] {
	const op = "storage.postgres.DueNow"

	return func(yield func(models.NotificationRecord, error) bool) {
		query, ok := dueQueries[kind]
		if !ok {
			yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, storage.CheckKind(kind)))
			return
		}

		rows, err := s.db.QueryContext(ctx, query, now)
		if err != nil {
			yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.NotificationRecord
			if err := rows.Scan(scanTargets(&rec)...); err != nil {
				yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err))
		}
	}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func scanTargets(rec *models.NotificationRecord) []any {
	return []any{
		&rec.EventID, &rec.Title, &rec.Link, &rec.StartTime,
		&rec.AnnouncementDue, &rec.AttendeeDue,
		&rec.AnnouncementSent, &rec.AttendeeSent,
		&rec.CreatedAt, &rec.UpdatedAt,
	}
}
