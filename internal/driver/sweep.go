package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"eventmailer/internal/lib/logger/sl"
	"eventmailer/internal/metrics"
	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/google/uuid"
)

// WeeklySweep lists the events of the sweep window and commits a plan for
// each one not seen before. Events already planned keep their due times.
func (d *Driver) WeeklySweep(ctx context.Context) (Summary, error) {
	const op = "driver.WeeklySweep"

	now := d.now()
	summary := Summary{
		RunID:    uuid.NewString(),
		Window:   d.planner.SweepWindow(now),
		Location: d.planner.Location(),
	}
	log := d.log.With(slog.String("op", op), slog.String("run_id", summary.RunID))

	leave := d.enter(StateCheckingCalendar)
	defer func() { leave() }()

	log.Info("checking calendar", slog.Time("from", summary.Window.Start), slog.Time("to", summary.Window.End))
	events, err := d.calendar.ListEvents(ctx, summary.Window.Start, summary.Window.End)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, upstream(err))
	}

	leave()
	leave = d.enter(StatePlanning)
	schedule.SortByStart(events)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("%s: %w", op, err)
		}

		rec, err := schedule.NewRecord(ev, now)
		if err != nil {
			log.Warn("skipping event without start time", slog.String("event_id", ev.ID), slog.String("title", ev.Title), slog.Bool("all_day", ev.AllDay))
			summary.Skipped = append(summary.Skipped, ev)
			metrics.RecordPlanned("skipped")
			continue
		}

		stored, created, err := d.store.UpsertPlan(ctx, rec)
		if err != nil {
			log.Error("failed to store plan", slog.String("event_id", ev.ID), sl.Err(err))
			summary.Failed = append(summary.Failed, ev)
			metrics.RecordPlanned("failed")
			continue
		}

		if created {
			log.Info("event scheduled",
				slog.String("event_id", stored.EventID),
				slog.String("title", stored.Title),
				slog.Time("announcement_due", stored.AnnouncementDue),
				slog.Time("attendee_due", stored.AttendeeDue),
			)
			summary.New = append(summary.New, stored)
			metrics.RecordPlanned("new")
		} else {
			summary.Existing = append(summary.Existing, stored)
			metrics.RecordPlanned("existing")
		}
	}

	log.Info("calendar checked",
		slog.Int("new", len(summary.New)),
		slog.Int("existing", len(summary.Existing)),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

// upstream tags collaborator errors that do not carry a taxonomy error yet.
func upstream(err error) error {
	for _, known := range []error{schedule.ErrUpstreamUnavailable, schedule.ErrEventNotFound, schedule.ErrSend, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", schedule.ErrUpstreamUnavailable, err)
}

// existingRecord returns the stored record of an event, if any.
func (d *Driver) existingRecord(ctx context.Context, eventID string) (*models.NotificationRecord, error) {
	rec, err := d.store.Get(ctx, eventID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
