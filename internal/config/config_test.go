package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
  admin_user_ids: [42, 99]
  announce_chat_id: -1001234
logging:
  level: debug
  file_enabled: true
  file_path: ./bot.log
storage:
  driver: sqlite
  path: ./data/bot.db
  busy_timeout: "5s"
schedule:
  timezone: Europe/Berlin
  announce_days: [1, 15]
  announce_time: "10:00"
  retry_max: 3
  retry_base: "30s"
notify:
  rate_per_sec: 20
  send_timeout: "8s"
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42, 99}, cfg.Telegram.AdminUserIDs)
	assert.Equal(t, int64(-1001234), cfg.Telegram.AnnounceChatID)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Schedule.RetryMax)
	assert.Equal(t, 20.0, cfg.Notify.RatePerSec)
	assert.True(t, cfg.Logging.ConsoleEnabled(), "console defaults on")

	assert.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "telegram:\n  token: x\n  typo_field: 1\n"))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad announce time", func(c *Config) { c.Schedule.AnnounceTime = "25:00" }},
		{"announce time not hh:mm", func(c *Config) { c.Schedule.AnnounceTime = "ten" }},
		{"day out of range", func(c *Config) { c.Schedule.AnnounceDays = []int{0} }},
		{"negative retry", func(c *Config) { c.Schedule.RetryMax = -1 }},
		{"bad duration", func(c *Config) { c.Schedule.RetryBase = "soon" }},
		{"negative rate", func(c *Config) { c.Notify.RatePerSec = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			tc.mut(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	h, min, err := cfg.AnnounceTime()
	require.NoError(t, err)
	assert.Equal(t, 10, h)
	assert.Zero(t, min)

	assert.Equal(t, []int{1, 15}, cfg.AnnounceDaysOrDefault())
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 5s ")
	require.NoError(t, err)
	assert.Equal(t, "5s", d.String())

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "nope")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 7e9)
	require.NoError(t, err)
	assert.Equal(t, "7s", d.String())
}
