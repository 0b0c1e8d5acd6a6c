// Package config reads eventmailer settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	SourceGoogle = "google"
	SourceCalDAV = "caldav"

	NotifierGmail = "gmail"
	NotifierSES   = "ses"
	NotifierLog   = "log"

	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the full application configuration.
type Config struct {
	Timezone string

	CalendarSource string
	CalendarID     string

	CalDAVURL          string
	CalDAVUsername     string
	CalDAVPassword     string
	CalDAVCalendarName string

	SheetID    string
	SheetRange string

	EmailFrom string
	EmailTo   string
	Notifier  string
	AWSRegion string

	Store         string
	StorePath     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// WeeklySchedule is a standard 5-field cron spec evaluated in Timezone.
	WeeklySchedule string
	TickInterval   time.Duration
	// RetryGrace is how long after an event start unsent notifications are still attempted.
	RetryGrace time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleAccount      string

	MetricsAddr string
	LogLevel    string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a normalized config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	var errs []error

	cfg := &Config{
		Timezone:           getenv("PRIMARY_TIMEZONE"),
		CalendarSource:     strings.ToLower(getenv("CALENDAR_SOURCE")),
		CalendarID:         getenv("CALENDAR_ID"),
		CalDAVURL:          getenv("CALDAV_URL"),
		CalDAVUsername:     getenv("CALDAV_USERNAME"),
		CalDAVPassword:     getenv("CALDAV_PASSWORD"),
		CalDAVCalendarName: getenv("CALDAV_CALENDAR_NAME"),
		SheetID:            getenv("SHEET_ID"),
		SheetRange:         getenv("SHEET_RANGE"),
		EmailFrom:          getenv("EMAIL_FROM"),
		EmailTo:            getenv("EMAIL_TO"),
		Notifier:           strings.ToLower(getenv("NOTIFIER")),
		AWSRegion:          getenv("AWS_REGION"),
		Store:              strings.ToLower(getenv("STORE")),
		StorePath:          getenv("STORE_PATH"),
		DatabaseURL:        getenv("DATABASE_URL"),
		RedisAddr:          getenv("REDIS_ADDR"),
		RedisPassword:      getenv("REDIS_PASSWORD"),
		WeeklySchedule:     getenv("WEEKLY_SCHEDULE"),
		GoogleClientID:     getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET"),
		GoogleAccount:      getenv("GOOGLE_ACCOUNT"),
		MetricsAddr:        getenv("METRICS_ADDR"),
		LogLevel:           getenv("LOG_LEVEL"),
	}

	if v := getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		}
		cfg.RedisDB = db
	}
	var err error
	if cfg.TickInterval, err = parseDuration(getenv, "TICK_INTERVAL"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryGrace, err = parseDuration(getenv, "RETRY_GRACE"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "Europe/Paris"
	}
	if c.CalendarSource == "" {
		c.CalendarSource = SourceGoogle
	}
	if c.SheetRange == "" {
		c.SheetRange = "A:Z"
	}
	if c.Notifier == "" {
		c.Notifier = NotifierGmail
	}
	if c.AWSRegion == "" {
		c.AWSRegion = "eu-west-3"
	}
	if c.Store == "" {
		c.Store = StoreFile
	}
	if c.StorePath == "" {
		c.StorePath = "notification-state.json"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.WeeklySchedule == "" {
		c.WeeklySchedule = "0 9 * * 1"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.RetryGrace <= 0 {
		c.RetryGrace = 30 * time.Minute
	}
	if c.GoogleAccount == "" {
		c.GoogleAccount = "default"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.CalendarSource {
	case SourceGoogle:
		if c.CalendarID == "" {
			errs = append(errs, errors.New("CALENDAR_ID is required for the google calendar source"))
		}
	case SourceCalDAV:
		if c.CalDAVUsername == "" || c.CalDAVPassword == "" {
			errs = append(errs, errors.New("CALDAV_USERNAME and CALDAV_PASSWORD are required for the caldav calendar source"))
		}
	default:
		errs = append(errs, fmt.Errorf("CALENDAR_SOURCE %q must be google or caldav", c.CalendarSource))
	}

	if c.SheetID == "" {
		errs = append(errs, errors.New("SHEET_ID is required"))
	}
	if c.EmailFrom == "" {
		errs = append(errs, errors.New("EMAIL_FROM is required"))
	}
	if c.EmailTo == "" {
		errs = append(errs, errors.New("EMAIL_TO is required"))
	}

	switch c.Notifier {
	case NotifierGmail, NotifierSES, NotifierLog:
	default:
		errs = append(errs, fmt.Errorf("NOTIFIER %q must be gmail, ses or log", c.Notifier))
	}

	switch c.Store {
	case StoreFile, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE %q must be file, postgres or redis", c.Store))
	}

	if _, err := cron.ParseStandard(c.WeeklySchedule); err != nil {
		errs = append(errs, fmt.Errorf("WEEKLY_SCHEDULE %q: %w", c.WeeklySchedule, err))
	}

	return errors.Join(errs...)
}

// Location loads the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

func parseDuration(getenv func(string) string, key string) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
