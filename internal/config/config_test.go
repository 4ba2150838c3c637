package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deadlineTracker/internal/config"
	"deadlineTracker/internal/urgency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: "9090"
  cors_origins: ["https://lab.example.org"]
repository:
  type: sqlite
  sqlite_path: /tmp/deadlines.db
engine:
  location: Europe/Berlin
urgency:
  due_this_week_days: 2
  due_soon_days: 5
dispatcher:
  send_timeout: 3s
  claim_ttl: 1m
notify:
  transport: webhook
  webhook_url: http://hooks.local/reminders
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sample)

	cfg, _, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.GetServerAddr())
	assert.Equal(t, []string{"https://lab.example.org"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sqlite", cfg.Repository.Type)
	assert.Equal(t, urgency.Thresholds{DueThisWeekDays: 2, DueSoonDays: 5}, cfg.Urgency)
	assert.Equal(t, 3*time.Second, cfg.Dispatcher.SendTimeout)
	assert.Equal(t, time.Minute, cfg.Dispatcher.ClaimTTL)
	assert.Equal(t, "webhook", cfg.Notify.Transport)

	// не указанные в файле поля берутся по умолчанию
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 9, cfg.Planner.FireHour)
	assert.Equal(t, "email", cfg.Planner.DefaultChannel)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, _, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, "inmemory", cfg.Repository.Type)
	assert.Equal(t, "log", cfg.Notify.Transport)
	assert.Equal(t, urgency.DefaultThresholds(), cfg.Urgency)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sample)
	t.Setenv("DEADLINES_SCHEDULER_INTERVAL", "30s")
	t.Setenv("DEADLINES_URGENCY_DUE_SOON_DAYS", "9")

	cfg, _, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 9, cfg.Urgency.DueSoonDays)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()

	_, _, err := config.Load(writeConfig(t, dir, "server: [unclosed"))
	assert.Error(t, err)

	_, _, err = config.Load(writeConfig(t, dir, "repository:\n  type: mongo\n"))
	assert.ErrorContains(t, err, "repository.type")
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg, _, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{name: "postgres without url", mutate: func(c *config.Config) { c.Repository.Type = "postgres" }, field: "database.url"},
		{name: "bad location", mutate: func(c *config.Config) { c.Engine.Location = "Mars/Olympus" }, field: "engine.location"},
		{name: "inverted thresholds", mutate: func(c *config.Config) { c.Urgency = urgency.Thresholds{DueThisWeekDays: 7, DueSoonDays: 3} }, field: "urgency"},
		{name: "fire hour", mutate: func(c *config.Config) { c.Planner.FireHour = 24 }, field: "planner.fire_hour"},
		{name: "channel", mutate: func(c *config.Config) { c.Planner.DefaultChannel = "sms" }, field: "planner.default_channel"},
		{name: "zero interval", mutate: func(c *config.Config) { c.Scheduler.Interval = 0 }, field: "scheduler.interval"},
		{name: "webhook without url", mutate: func(c *config.Config) { c.Notify.Transport = "webhook" }, field: "notify.webhook_url"},
		{name: "unknown transport", mutate: func(c *config.Config) { c.Notify.Transport = "pigeon" }, field: "notify.transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.field)
		})
	}
}

func TestWatch_ReloadsThresholds(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sample)

	_, v, err := config.Load(path)
	require.NoError(t, err)

	var got atomic.Pointer[urgency.Thresholds]
	config.Watch(v, func(cfg *config.Config) {
		th := cfg.Urgency
		got.Store(&th)
	})

	updated := strings.Replace(sample, "due_this_week_days: 2\n  due_soon_days: 5", "due_this_week_days: 4\n  due_soon_days: 10", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		th := got.Load()
		return th != nil && *th == urgency.Thresholds{DueThisWeekDays: 4, DueSoonDays: 10}
	}, 5*time.Second, 20*time.Millisecond)
}
