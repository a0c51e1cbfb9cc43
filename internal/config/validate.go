package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultMaintenance = "@every 1h"
)

// CronParser accepts standard 5-field specs, an optional leading seconds
// field, and descriptors like "@every 1h".
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SchedulerSettings is SchedulerConfig with durations parsed and defaults
// applied. ShortTask is negative when the fast path is disabled.
type SchedulerSettings struct {
	ShortTask       time.Duration
	MaxSleep        time.Duration
	CallbackTimeout time.Duration
	SafeMode        bool
}

func (c SchedulerConfig) Settings() (SchedulerSettings, error) {
	var (
		s   SchedulerSettings
		err error
	)
	if s.ShortTask, err = ParseDurationOrDefault("scheduler.short_task", c.ShortTask, 30*time.Second); err != nil {
		return s, err
	}
	if c.DisableShortTask {
		s.ShortTask = -1
	}
	if s.MaxSleep, err = ParseDurationOrDefault("scheduler.max_sleep", c.MaxSleep, 24*time.Hour); err != nil {
		return s, err
	}
	if s.MaxSleep < time.Second {
		return s, fmt.Errorf("scheduler.max_sleep: must be at least 1s")
	}
	if s.CallbackTimeout, err = ParseDurationOrDefault("scheduler.callback_timeout", c.CallbackTimeout, 2*time.Minute); err != nil {
		return s, err
	}
	s.SafeMode = c.SafeMode == nil || *c.SafeMode
	return s, nil
}

// MaintenanceSpec returns the cron spec for storage housekeeping, or "" when
// it is disabled.
func (c StorageConfig) MaintenanceSpec() string {
	spec := strings.TrimSpace(c.Maintenance)
	switch strings.ToLower(spec) {
	case "":
		return DefaultMaintenance
	case "off", "none", "disabled":
		return ""
	}
	return spec
}

// ParseGroupLog splits "<chat_id>[:<thread_id>]". ok is false for "".
func ParseGroupLog(raw string) (chatID int64, threadID int, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false, nil
	}
	chatPart, threadPart, hasThread := strings.Cut(raw, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("telegram.group_log: invalid chat id %q", chatPart)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || threadID < 0 {
			return 0, 0, false, fmt.Errorf("telegram.group_log: invalid thread id %q", threadPart)
		}
	}
	return chatID, threadID, true, nil
}

var knownDrivers = map[string]bool{
	"": true, "sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pg": true,
	"redis": true, "file": true, "memory": true, "none": true,
}

// Validate checks everything that can be checked without side effects.
// requireToken is false for offline commands that never talk to Telegram.
func Validate(cfg *Config, requireToken bool) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if requireToken && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, _, _, err := ParseGroupLog(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Scheduler.Settings(); err != nil {
		errs = append(errs, err)
	}

	st := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(st.Driver))
	if !knownDrivers[driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
	}
	switch driver {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(st.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(st.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case "redis":
		if strings.TrimSpace(st.Addr) == "" {
			errs = append(errs, errors.New("storage.addr is required for redis"))
		}
	}
	if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if spec := st.MaintenanceSpec(); spec != "" {
		if _, err := CronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("storage.maintenance: %w", err))
		}
	}
	return errors.Join(errs...)
}
