package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventmailer/internal/lib/logger/sl"
	"eventmailer/internal/models"
	"eventmailer/internal/schedule"
	"eventmailer/internal/storage"
)

// LookupResult answers an on-demand date request.
type LookupResult struct {
	Day time.Time
	// Event is the earliest timed event of the day.
	Event models.Event
	// Matches is the number of timed events found that day.
	Matches int
	Plan    schedule.Plan
	// Record is the stored state, nil when the event was never planned.
	Record *models.NotificationRecord
	// Created is set by Schedule and SendNow when they created the record.
	Created bool
}

// Lookup resolves free text to a day and finds the event on it. It does not
// write anything.
func (d *Driver) Lookup(ctx context.Context, text string) (LookupResult, error) {
	const op = "driver.Lookup"

	now := d.now()
	day, err := d.planner.ParseDay(text, now)
	if err != nil {
		return LookupResult{}, fmt.Errorf("%s: %w", op, err)
	}
	result := LookupResult{Day: day}

	leave := d.enter(StateCheckingCalendar)
	defer leave()

	window := d.planner.DayWindow(day)
	events, err := d.calendar.ListEvents(ctx, window.Start, window.End)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, upstream(err))
	}

	ev, count, ok := schedule.Earliest(events)
	if !ok {
		return result, fmt.Errorf("%s: %s: %w", op, day.Format(time.DateOnly), schedule.ErrNoEventOnDate)
	}
	if count > 1 {
		d.log.Info("several events on requested day, using the earliest",
			slog.String("op", op),
			slog.String("day", day.Format(time.DateOnly)),
			slog.Int("matches", count),
			slog.String("event_id", ev.ID),
		)
	}
	result.Event = ev
	result.Matches = count

	plan, err := schedule.PlanEvent(ev)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	result.Plan = plan

	if result.Record, err = d.existingRecord(ctx, ev.ID); err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// Schedule is Lookup followed by committing the plan. An existing plan is
// returned unchanged.
func (d *Driver) Schedule(ctx context.Context, text string) (LookupResult, error) {
	const op = "driver.Schedule"

	result, err := d.Lookup(ctx, text)
	if err != nil {
		return result, err
	}

	rec, err := schedule.NewRecord(result.Event, d.now())
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	stored, created, err := d.store.UpsertPlan(ctx, rec)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	result.Record, result.Created = &stored, created
	result.Plan = schedule.Plan{AnnouncementDue: stored.AnnouncementDue, AttendeeDue: stored.AttendeeDue}
	return result, nil
}

// SendNow looks the event up, re-reads it from the calendar, commits the plan
// and sends every kind not sent yet, regardless of the due times.
func (d *Driver) SendNow(ctx context.Context, text string) (LookupResult, []Delivery, error) {
	const op = "driver.SendNow"

	result, err := d.Lookup(ctx, text)
	if err != nil {
		return result, nil, err
	}

	ev, err := d.calendar.GetEvent(ctx, result.Event.ID)
	if err != nil {
		return result, nil, fmt.Errorf("%s: %w", op, upstream(err))
	}
	rec, err := schedule.NewRecord(ev, d.now())
	if err != nil {
		return result, nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Event = ev

	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	stored, created, err := d.store.UpsertPlan(ctx, rec)
	if err != nil {
		return result, nil, fmt.Errorf("%s: %w", op, err)
	}
	result.Record, result.Created = &stored, created
	result.Plan = schedule.Plan{AnnouncementDue: stored.AnnouncementDue, AttendeeDue: stored.AttendeeDue}

	defer d.enter(StateSending)()

	var (
		deliveries []Delivery
		errs       []error
	)
	for _, kind := range models.Kinds {
		sent, err := d.store.IsSent(ctx, stored.EventID, kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sent {
			continue
		}

		delivery, err := d.deliver(ctx, kind, stored, d.now())
		if err != nil {
			d.log.Error("on-demand send failed", slog.String("op", op), slog.String("event_id", stored.EventID), slog.String("kind", string(kind)), sl.Err(err))
			errs = append(errs, err)
			continue
		}
		deliveries = append(deliveries, delivery)
	}

	if refreshed, err := d.existingRecord(ctx, stored.EventID); err == nil && refreshed != nil {
		result.Record = refreshed
	}
	if err := errors.Join(errs...); err != nil {
		return result, deliveries, fmt.Errorf("%s: %w", op, err)
	}
	return result, deliveries, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrRecordNotFound)
}
