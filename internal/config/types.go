// Package config loads, validates, and watches the bot configuration.
// YAML and JSON files are both accepted; YAML is coerced to JSON so one
// strict decoder covers both.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimezone     = "Europe/Berlin"
	DefaultAnnounceTime = "10:00"
)

var defaultAnnounceDays = []int{1, 15}

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via BOT_TOKEN.
	Token          string  `json:"token,omitempty"`
	PollTimeout    string  `json:"poll_timeout,omitempty"`
	AdminUserIDs   []int64 `json:"admin_user_ids,omitempty"`
	AnnounceChatID int64   `json:"announce_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level       string `json:"level,omitempty"`
	Console     *bool  `json:"console,omitempty"`
	FileEnabled bool   `json:"file_enabled,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
}

// ConsoleEnabled defaults to true when the field is omitted.
func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ScheduleConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	AnnounceDays  []int  `json:"announce_days,omitempty"`
	AnnounceTime  string `json:"announce_time,omitempty"` // "HH:MM"
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type NotifyConfig struct {
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	SendTimeout string  `json:"send_timeout,omitempty"`
}

// Validate checks everything that would otherwise fail deep inside a
// component at runtime. A config that passes Validate materializes
// without errors.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.AnnounceTime(); err != nil {
		return err
	}
	for _, d := range c.AnnounceDaysOrDefault() {
		if d < 1 || d > 31 {
			return fmt.Errorf("schedule.announce_days: day %d out of range 1..31", d)
		}
	}
	if c.Schedule.RetryMax < 0 {
		return fmt.Errorf("schedule.retry_max must be >= 0")
	}
	if _, err := ParseDurationField("schedule.retry_base", c.Schedule.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedule.retry_max_delay", c.Schedule.RetryMaxDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("notify.send_timeout", c.Notify.SendTimeout); err != nil {
		return err
	}
	return nil
}

// Location resolves the community timezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Schedule.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: unknown timezone %q", name)
	}
	return loc, nil
}

// AnnounceTime parses the "HH:MM" announcement wall time.
func (c *Config) AnnounceTime() (hour, minute int, err error) {
	s := strings.TrimSpace(c.Schedule.AnnounceTime)
	if s == "" {
		s = DefaultAnnounceTime
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule.announce_time: %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err == nil {
		minute, err = strconv.Atoi(parts[1])
	}
	if err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule.announce_time: %q is not a valid HH:MM", s)
	}
	return hour, minute, nil
}

func (c *Config) AnnounceDaysOrDefault() []int {
	if len(c.Schedule.AnnounceDays) == 0 {
		return defaultAnnounceDays
	}
	return c.Schedule.AnnounceDays
}
