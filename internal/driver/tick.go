package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventmailer/internal/lib/logger/sl"
	"eventmailer/internal/metrics"
	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/google/uuid"
)

const (
	TimingOnTime = "on_time"
	TimingLate   = "late"
)

// Tick sends every notification that is due and not yet sent, one record at
// a time. A record is marked sent only after the notifier accepted it, so a
// failed send stays due and is retried on the next tick. If another tick is
// still running, Tick returns at once with Overlapped set.
func (d *Driver) Tick(ctx context.Context) TickReport {
	const op = "driver.Tick"

	if !d.tickMu.TryLock() {
		return TickReport{Overlapped: true}
	}
	defer d.tickMu.Unlock()

	started := time.Now()
	defer func() { metrics.RecordTick(time.Since(started)) }()

	report := TickReport{RunID: uuid.NewString(), Now: d.now()}
	log := d.log.With(slog.String("op", op), slog.String("run_id", report.RunID))

	defer d.enter(StateSending)()

	for _, kind := range models.Kinds {
		for rec, err := range d.store.DueNow(ctx, report.Now, kind) {
			if err != nil {
				log.Error("failed to read due notifications", slog.String("kind", string(kind)), sl.Err(err))
				report.Errors = append(report.Errors, err)
				break
			}
			if ctx.Err() != nil {
				break
			}

			if schedule.Expired(rec, report.Now, d.opts.RetryGrace) {
				// Reported by the first tick past the cutoff only.
				if report.Now.Before(rec.StartTime.Add(d.opts.RetryGrace + d.opts.TickInterval)) {
					log.Warn("notification expired, not sending",
						slog.String("event_id", rec.EventID),
						slog.String("kind", string(kind)),
						slog.Time("start_time", rec.StartTime),
					)
					report.Expired = append(report.Expired, Pending{EventID: rec.EventID, Kind: kind, Due: rec.Due(kind)})
				}
				continue
			}

			delivery, err := d.deliver(ctx, kind, rec, report.Now)
			if err != nil {
				log.Error("failed to send notification, will retry",
					slog.String("event_id", rec.EventID),
					slog.String("kind", string(kind)),
					sl.Err(err),
				)
				report.Failed = append(report.Failed, Failure{EventID: rec.EventID, Kind: kind, Err: err})
				continue
			}
			report.Sent = append(report.Sent, delivery)
		}
	}

	if len(report.Sent) > 0 || len(report.Failed) > 0 || len(report.Errors) > 0 {
		log.Info("due check done",
			slog.Int("sent", len(report.Sent)),
			slog.Int("failed", len(report.Failed)),
			slog.Int("expired", len(report.Expired)),
		)
	}
	return report
}

// deliver composes and sends one notification and then marks it sent. A
// failure to mark after a successful send is logged but not returned: the
// notification went out, and the next tick may send it again.
func (d *Driver) deliver(ctx context.Context, kind models.Kind, rec models.NotificationRecord, now time.Time) (Delivery, error) {
	delivery := Delivery{EventID: rec.EventID, Title: rec.Title, Kind: kind, Timing: timing(rec.Due(kind), now)}

	var attendees []string
	if kind == models.KindAttendee {
		list, err := d.attendees.AttendeesForDate(ctx, rec.StartTime)
		if err != nil {
			metrics.RecordFailed(string(kind))
			return delivery, fmt.Errorf("attendees for %s: %w", rec.EventID, upstream(err))
		}
		attendees = dedupeEmails(list)
		delivery.Attendees = len(attendees)
	}

	msg, err := d.composer.Compose(kind, rec, attendees)
	if err != nil {
		metrics.RecordFailed(string(kind))
		return delivery, fmt.Errorf("compose %s for %s: %w", kind, rec.EventID, err)
	}

	id, err := d.notifier.Send(ctx, msg)
	if err != nil {
		metrics.RecordFailed(string(kind))
		if !errors.Is(err, schedule.ErrSend) {
			err = fmt.Errorf("%w: %w", schedule.ErrSend, err)
		}
		return delivery, err
	}
	delivery.MessageID = id
	metrics.RecordSent(string(kind), delivery.Timing)

	if err := d.store.MarkSent(ctx, rec.EventID, kind, now); err != nil {
		d.log.Error("notification sent but not marked, it may be sent again",
			slog.String("event_id", rec.EventID),
			slog.String("kind", string(kind)),
			slog.String("message_id", id),
			sl.Err(err),
		)
	}

	d.log.Info("notification sent",
		slog.String("event_id", rec.EventID),
		slog.String("kind", string(kind)),
		slog.String("subject", msg.Subject),
		slog.String("timing", delivery.Timing),
		slog.String("message_id", id),
	)
	return delivery, nil
}

func timing(due, now time.Time) string {
	if schedule.DueWindow(due).Contains(now) || now.Before(due) {
		return TimingOnTime
	}
	return TimingLate
}

// dedupeEmails drops repeated addresses, ignoring case and keeping the first spelling.
func dedupeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := strings.ToLower(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
