package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"eventmailer/internal/caldav"
	"eventmailer/internal/config"
	"eventmailer/internal/driver"
	"eventmailer/internal/google"
	"eventmailer/internal/lib/logger/sl"
	"eventmailer/internal/mail"
	"eventmailer/internal/metrics"
	"eventmailer/internal/schedule"
	"eventmailer/internal/storage/file"
	"eventmailer/internal/storage/postgres"
	"eventmailer/internal/storage/redis"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	app := &cli.App{
		Name:  "eventmailer",
		Usage: "Email an announcement and an attendee list before every calendar event.",
		Commands: []*cli.Command{
			authCommand(),
			runCommand(),
			checkCommand(),
			tickCommand(),
			lookupCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Usage: "Log emails instead of sending them."}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account for calendar, sheets and gmail access.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.GoogleClientID, cfg.GoogleClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Printf("Enter a name for this account [%s]: ", cfg.GoogleAccount)
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = cfg.GoogleAccount
			}
			tokenFile := google.TokenFile(accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the weekly check and the per-minute due check until interrupted.",
		Flags: []cli.Flag{
			dryRunFlag(),
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address (overrides METRICS_ADDR)."},
			&cli.BoolFlag{Name: "sweep-on-start", Value: true, Usage: "Run the weekly check once at startup."},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.MetricsAddr
			if c.IsSet("metrics-addr") {
				addr = c.String("metrics-addr")
			}
			if addr != "" {
				go func() {
					if err := metrics.Serve(ctx, a.logger, addr); err != nil {
						a.logger.Error("Metrics server failed", sl.Err(err))
					}
				}()
			}

			d := a.driver(driver.Options{SweepOnStart: c.Bool("sweep-on-start")})
			return d.Run(ctx)
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Check this week's calendar once and print what is scheduled.",
		Action: func(c *cli.Context) error {
			a, err := newApp(c.Context, true)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.driver(driver.Options{}).WeeklySweep(c.Context)
			if err != nil {
				return fmt.Errorf("weekly check failed: %w", err)
			}
			fmt.Print(summary.String())
			return nil
		},
	}
}

func tickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Send the notifications that are due right now and exit.",
		Flags: []cli.Flag{dryRunFlag()},
		Action: func(c *cli.Context) error {
			a, err := newApp(c.Context, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer a.close()

			report := a.driver(driver.Options{}).Tick(c.Context)
			fmt.Print(report.String())
			if len(report.Errors) > 0 {
				return errors.Join(report.Errors...)
			}
			return nil
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Find the event on a date, e.g. 'lookup March 15, 2026'.",
		ArgsUsage: "<date>",
		Flags: []cli.Flag{
			dryRunFlag(),
			&cli.BoolFlag{Name: "schedule", Usage: "Commit the notification plan for the event."},
			&cli.BoolFlag{Name: "send-now", Usage: "Send both emails for the event immediately."},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			if text == "" {
				return cli.Exit("a date is required, e.g. 'lookup 2026-03-15'", 2)
			}

			a, err := newApp(c.Context, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer a.close()
			d := a.driver(driver.Options{})

			var (
				result     driver.LookupResult
				deliveries []driver.Delivery
			)
			switch {
			case c.Bool("send-now"):
				result, deliveries, err = d.SendNow(c.Context, text)
			case c.Bool("schedule"):
				result, err = d.Schedule(c.Context, text)
			default:
				result, err = d.Lookup(c.Context, text)
			}

			if msg, ok := explain(text, err); ok {
				fmt.Println(msg)
				return nil
			}
			if result.Event.ID != "" {
				fmt.Print(describe(result, a.planner))
			}
			for _, dl := range deliveries {
				fmt.Printf("Sent %s (message %s)\n", dl.Kind, dl.MessageID)
			}
			return err
		},
	}
}

// explain turns the expected lookup failures into an answer for the operator.
func explain(text string, err error) (string, bool) {
	switch {
	case errors.Is(err, schedule.ErrUnparseableDate):
		return fmt.Sprintf("Sorry, I could not understand the date %q. Try something like 2026-03-15 or March 15, 2026.", text), true
	case errors.Is(err, schedule.ErrNoEventOnDate):
		return fmt.Sprintf("There is no event on %s.", text), true
	}
	return "", false
}

func describe(r driver.LookupResult, planner *schedule.Planner) string {
	loc := planner.Location()
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s\n", r.Event.Title, r.Event.Start.In(loc).Format("Monday 02 January 2006 at 15:04 MST"))
	if r.Event.Link != "" {
		fmt.Fprintf(&b, "Link: %s\n", r.Event.Link)
	}
	if r.Matches > 1 {
		fmt.Fprintf(&b, "(%d events that day, showing the earliest)\n", r.Matches)
	}
	fmt.Fprintf(&b, "Announcement at %s, attendee list at %s\n",
		r.Plan.AnnouncementDue.In(loc).Format("15:04"), r.Plan.AttendeeDue.In(loc).Format("15:04"))
	switch {
	case r.Record == nil:
		b.WriteString("Not scheduled yet.\n")
	case r.Created:
		b.WriteString("Scheduled.\n")
	default:
		fmt.Fprintf(&b, "Already scheduled (announcement sent: %t, attendee list sent: %t).\n", r.Record.AnnouncementSent, r.Record.AttendeeSent)
	}
	return b.String()
}

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	planner *schedule.Planner
	deps    driver.Deps
	closers []func() error
}

func newApp(ctx context.Context, dryRun bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dryRun {
		cfg.Notifier = config.NotifierLog
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	if dryRun {
		logger.Info("Performing a dry run. Emails are logged, not sent.")
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, planner: schedule.NewPlanner(loc)}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.deps.Store = store
	a.closers = append(a.closers, store.Close)

	httpClient, err := google.HTTPClient(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleAccount)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	if a.deps.Calendar, err = openCalendar(ctx, logger, cfg, loc, httpClient); err != nil {
		a.close()
		return nil, err
	}

	a.deps.Attendees, err = google.NewSheetClient(ctx, logger, httpClient, cfg.SheetID, cfg.SheetRange, a.planner)
	if err != nil {
		a.close()
		return nil, err
	}

	if a.deps.Notifier, err = openNotifier(ctx, logger, cfg, httpClient); err != nil {
		a.close()
		return nil, err
	}
	a.deps.Composer = mail.NewTemplateComposer(cfg.EmailFrom, cfg.EmailTo, loc)

	return a, nil
}

func (a *app) driver(opts driver.Options) *driver.Driver {
	opts.TickInterval = a.cfg.TickInterval
	opts.RetryGrace = a.cfg.RetryGrace
	opts.WeeklySchedule = a.cfg.WeeklySchedule
	return driver.New(a.logger, a.deps, a.planner, opts)
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close resource", sl.Err(err))
		}
	}
}

type closableStore interface {
	driver.Store
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		return redis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return file.New(cfg.StorePath)
	}
}

func openCalendar(ctx context.Context, logger *slog.Logger, cfg *config.Config, loc *time.Location, httpClient *http.Client) (driver.CalendarReader, error) {
	if cfg.CalendarSource == config.SourceCalDAV {
		return caldav.NewClient(ctx, logger, cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendarName, loc)
	}
	return google.NewCalendarClient(ctx, logger, httpClient, cfg.CalendarID, loc)
}

func openNotifier(ctx context.Context, logger *slog.Logger, cfg *config.Config, httpClient *http.Client) (driver.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierLog:
		return mail.NewLogNotifier(logger), nil
	case config.NotifierSES:
		return mail.NewSESNotifier(ctx, logger, cfg.AWSRegion)
	default:
		return google.NewGmailNotifier(ctx, logger, httpClient)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
