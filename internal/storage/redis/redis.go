// Package redis stores notification records as hashes with one sorted set
// of due times per kind.
package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/storage"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "eventmailer"

// upsertScript creates the record and its due entries only when the hash is
// absent. An existing record only gets its title, link and updated_at.
var upsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'title', ARGV[2], 'link', ARGV[3], 'updated_at', ARGV[8])
	return 0
end
redis.call('HSET', KEYS[1],
	'event_id', ARGV[1], 'title', ARGV[2], 'link', ARGV[3], 'start_time', ARGV[4],
	'announcement_due', ARGV[5], 'attendee_due', ARGV[6],
	'announcement_sent', '0', 'attendee_sent', '0',
	'created_at', ARGV[7], 'updated_at', ARGV[8])
redis.call('ZADD', KEYS[2], ARGV[9], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[10], ARGV[1])
return 1
`)

// markSentScript flips one sent flag and drops the event from that kind's
// due set. Returns -1 when the record does not exist.
var markSentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], ARGV[1]) == '1' then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], '1', 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
return 1
`)

type Storage struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*Storage, error) {
	const op = "storage.redis.Connect"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return New(client, DefaultPrefix), nil
}

func (s *Storage) recordKey(eventID string) string {
	return fmt.Sprintf("%s:notification:%s", s.prefix, eventID)
}

func (s *Storage) dueKey(kind models.Kind) string {
	return fmt.Sprintf("%s:due:%s", s.prefix, kind)
}

func (s *Storage) UpsertPlan(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error) {
	const op = "storage.redis.UpsertPlan"

	keys := []string{
		s.recordKey(rec.EventID),
		s.dueKey(models.KindAnnouncement),
		s.dueKey(models.KindAttendee),
	}
	created, err := upsertScript.Run(ctx, s.client, keys,
		rec.EventID,
		rec.Title,
		rec.Link,
		formatTime(rec.StartTime),
		formatTime(rec.AnnouncementDue),
		formatTime(rec.AttendeeDue),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		rec.AnnouncementDue.UnixMilli(),
		rec.AttendeeDue.UnixMilli(),
	).Int()
	if err != nil {
		return models.NotificationRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := s.Get(ctx, rec.EventID)
	if err != nil {
		return models.NotificationRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return stored, created == 1, nil
}

func (s *Storage) Get(ctx context.Context, eventID string) (models.NotificationRecord, error) {
	const op = "storage.redis.Get"

	fields, err := s.client.HGetAll(ctx, s.recordKey(eventID)).Result()
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 {
		return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	rec, err := decodeRecord(fields)
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) IsSent(ctx context.Context, eventID string, kind models.Kind) (bool, error) {
	const op = "storage.redis.IsSent"

	if err := storage.CheckKind(kind); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	val, err := s.client.HGet(ctx, s.recordKey(eventID), sentField(kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return val == "1", nil
}

func (s *Storage) MarkSent(ctx context.Context, eventID string, kind models.Kind, at time.Time) error {
	const op = "storage.redis.MarkSent"

	if err := storage.CheckKind(kind); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := markSentScript.Run(ctx, s.client,
		[]string{s.recordKey(eventID), s.dueKey(kind)},
		sentField(kind), formatTime(at), eventID,
	).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res == -1 {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}
	return nil
}

// DueNow reads the due ids when iteration starts and loads each record as
// it is yielded.
func (s *Storage) DueNow(ctx context.Context, now time.Time, kind models.Kind) iter.Seq2[models.NotificationRecord, error] {
	const op = "storage.redis.DueNow"

	return func(yield func(models.NotificationRecord, error) bool) {
		if err := storage.CheckKind(kind); err != nil {
			yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err))
			return
		}

		ids, err := s.client.ZRangeByScore(ctx, s.dueKey(kind), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		if err != nil {
			yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err))
			return
		}

		for _, id := range ids {
			rec, err := s.Get(ctx, id)
			if errors.Is(err, storage.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				if !yield(models.NotificationRecord{}, fmt.Errorf("%s: %w", op, err)) {
					return
				}
				continue
			}
			if rec.Sent(kind) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Storage) Close() error {
	const op = "storage.redis.Close"

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func sentField(kind models.Kind) string {
	return string(kind) + "_sent"
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func decodeRecord(fields map[string]string) (models.NotificationRecord, error) {
	rec := models.NotificationRecord{
		EventID:          fields["event_id"],
		Title:            fields["title"],
		Link:             fields["link"],
		AnnouncementSent: fields["announcement_sent"] == "1",
		AttendeeSent:     fields["attendee_sent"] == "1",
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"start_time", &rec.StartTime},
		{"announcement_due", &rec.AnnouncementDue},
		{"attendee_due", &rec.AttendeeDue},
		{"created_at", &rec.CreatedAt},
		{"updated_at", &rec.UpdatedAt},
	}
	for _, tf := range times {
		t, err := time.Parse(time.RFC3339Nano, fields[tf.field])
		if err != nil {
			return models.NotificationRecord{}, fmt.Errorf("field %s: %w", tf.field, err)
		}
		*tf.dst = t
	}
	return rec, nil
}
