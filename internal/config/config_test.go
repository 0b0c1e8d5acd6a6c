package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func validEnv() map[string]string {
	return map[string]string{
		"CALENDAR_ID": "team@group.calendar.google.com",
		"SHEET_ID":    "sheet-1",
		"EMAIL_FROM":  "bot@example.com",
		"EMAIL_TO":    "ops@example.com",
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envFrom(validEnv()))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, SourceGoogle, cfg.CalendarSource)
	assert.Equal(t, "A:Z", cfg.SheetRange)
	assert.Equal(t, NotifierGmail, cfg.Notifier)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, "notification-state.json", cfg.StorePath)
	assert.Equal(t, "0 9 * * 1", cfg.WeeklySchedule)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 30*time.Minute, cfg.RetryGrace)
	assert.Equal(t, "default", cfg.GoogleAccount)
	assert.Equal(t, "info", cfg.LogLevel)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestFromEnv_Overrides(t *testing.T) {
	env := validEnv()
	env["STORE"] = "Redis"
	env["REDIS_DB"] = "3"
	env["TICK_INTERVAL"] = "30s"
	env["RETRY_GRACE"] = "1h"
	env["NOTIFIER"] = "SES"

	cfg, err := FromEnv(envFrom(env))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, time.Hour, cfg.RetryGrace)
	assert.Equal(t, NotifierSES, cfg.Notifier)
}

func TestFromEnv_BadNumbers(t *testing.T) {
	env := validEnv()
	env["REDIS_DB"] = "two"
	env["TICK_INTERVAL"] = "soon"

	_, err := FromEnv(envFrom(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_DB")
	assert.Contains(t, err.Error(), "TICK_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		change  func(env map[string]string)
		wantErr string
	}{
		{"missing calendar id", func(env map[string]string) { delete(env, "CALENDAR_ID") }, "CALENDAR_ID"},
		{"caldav without credentials", func(env map[string]string) { env["CALENDAR_SOURCE"] = "caldav" }, "CALDAV_USERNAME"},
		{"unknown source", func(env map[string]string) { env["CALENDAR_SOURCE"] = "outlook" }, "CALENDAR_SOURCE"},
		{"missing sheet", func(env map[string]string) { delete(env, "SHEET_ID") }, "SHEET_ID"},
		{"missing recipient", func(env map[string]string) { delete(env, "EMAIL_TO") }, "EMAIL_TO"},
		{"postgres without dsn", func(env map[string]string) { env["STORE"] = "postgres" }, "DATABASE_URL"},
		{"unknown store", func(env map[string]string) { env["STORE"] = "mongo" }, "STORE"},
		{"unknown notifier", func(env map[string]string) { env["NOTIFIER"] = "carrier-pigeon" }, "NOTIFIER"},
		{"bad timezone", func(env map[string]string) { env["PRIMARY_TIMEZONE"] = "Mars/Olympus" }, "invalid timezone"},
		{"bad cron", func(env map[string]string) { env["WEEKLY_SCHEDULE"] = "every monday" }, "WEEKLY_SCHEDULE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnv()
			tt.change(env)

			cfg, err := FromEnv(envFrom(env))
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CalDAV(t *testing.T) {
	env := validEnv()
	delete(env, "CALENDAR_ID")
	env["CALENDAR_SOURCE"] = "caldav"
	env["CALDAV_USERNAME"] = "me@icloud.com"
	env["CALDAV_PASSWORD"] = "app-password"

	cfg, err := FromEnv(envFrom(env))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
