// Package driver runs the weekly calendar check, the per-minute due check and
// the on-demand lookups on top of the notification store.
package driver

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventmailer/internal/lib/logger/sl"
	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/robfig/cron/v3"
)

type CalendarReader interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error)
	GetEvent(ctx context.Context, eventID string) (models.Event, error)
}

type AttendeeSource interface {
	AttendeesForDate(ctx context.Context, date time.Time) ([]string, error)
}

type Notifier interface {
	Send(ctx context.Context, msg models.Message) (string, error)
}

type Composer interface {
	Compose(kind models.Kind, rec models.NotificationRecord, attendees []string) (models.Message, error)
}

type Store interface {
	UpsertPlan(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error)
	Get(ctx context.Context, eventID string) (models.NotificationRecord, error)
	IsSent(ctx context.Context, eventID string, kind models.Kind) (bool, error)
	MarkSent(ctx context.Context, eventID string, kind models.Kind, at time.Time) error
	DueNow(ctx context.Context, now time.Time, kind models.Kind) iter.Seq2[models.NotificationRecord, error]
}

// Deps are the collaborators of a Driver.
type Deps struct {
	Calendar  CalendarReader
	Attendees AttendeeSource
	Notifier  Notifier
	Composer  Composer
	Store     Store
}

type Options struct {
	TickInterval   time.Duration
	RetryGrace     time.Duration
	WeeklySchedule string
	// SweepOnStart runs the weekly check once when Run starts.
	SweepOnStart bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Driver struct {
	log       *slog.Logger
	calendar  CalendarReader
	attendees AttendeeSource
	notifier  Notifier
	composer  Composer
	store     Store
	planner   *schedule.Planner
	opts      Options

	// phases counts the entry points in each phase.
	phases [StateSending + 1]atomic.Int32
	// tickMu keeps ticks from overlapping. Sends from SendNow take it too.
	tickMu sync.Mutex
}

func New(log *slog.Logger, deps Deps, planner *schedule.Planner, opts Options) *Driver {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.RetryGrace <= 0 {
		opts.RetryGrace = 30 * time.Minute
	}
	if opts.WeeklySchedule == "" {
		opts.WeeklySchedule = "0 9 * * 1"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Driver{
		log:       log,
		calendar:  deps.Calendar,
		attendees: deps.Attendees,
		notifier:  deps.Notifier,
		composer:  deps.Composer,
		store:     deps.Store,
		planner:   planner,
		opts:      opts,
	}
}

func (d *Driver) now() time.Time {
	return d.opts.Now().In(d.planner.Location())
}

// Run owns the ticker and the weekly cron job. It returns once ctx is
// cancelled and every running tick and sweep has returned.
func (d *Driver) Run(ctx context.Context) error {
	const op = "driver.Run"
	log := d.log.With(slog.String("op", op))

	c := cron.New(
		cron.WithLocation(d.planner.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(slog.NewLogLogger(d.log.Handler(), slog.LevelDebug)))),
	)
	if _, err := c.AddFunc(d.opts.WeeklySchedule, func() { d.runSweep(ctx) }); err != nil {
		return err
	}

	var wg sync.WaitGroup
	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runTick(ctx)
		}()
	}

	log.Info("starting driver loop",
		slog.Duration("tick_interval", d.opts.TickInterval),
		slog.String("weekly_schedule", d.opts.WeeklySchedule),
		slog.String("timezone", d.planner.Location().String()),
	)

	c.Start()
	if d.opts.SweepOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runSweep(ctx)
		}()
	}
	tick()

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping driver loop, waiting for running work", sl.Err(ctx.Err()))
			<-c.Stop().Done()
			wg.Wait()
			log.Info("driver loop stopped")
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

func (d *Driver) runSweep(ctx context.Context) {
	summary, err := d.WeeklySweep(ctx)
	if err != nil {
		d.log.Error("weekly check failed", sl.Err(err))
		return
	}
	d.log.Info("weekly check done", slog.String("run_id", summary.RunID), slog.String("summary", summary.String()))
}

func (d *Driver) runTick(ctx context.Context) {
	report := d.Tick(ctx)
	if report.Overlapped {
		d.log.Warn("previous due check still running, skipping tick")
	}
}
