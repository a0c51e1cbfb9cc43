package config

// Config is the on-disk configuration, JSON or YAML.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "24h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>"; scheduler failures
	// and chat log lines go there.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the delayed-task engine.
//
// Defaults:
//   - short_task: "30s" (entries due within this bypass storage)
//   - max_sleep: "24h"
//   - callback_timeout: "2m"
//   - safe_mode: true when omitted
type SchedulerConfig struct {
	ShortTask        string `json:"short_task,omitempty"`
	DisableShortTask bool   `json:"disable_short_task,omitempty"`
	MaxSleep         string `json:"max_sleep,omitempty"`
	CallbackTimeout  string `json:"callback_timeout,omitempty"`
	SafeMode         *bool  `json:"safe_mode,omitempty"`
}

// StorageConfig selects the durable backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"` // redis; never logged
	DB          int    `json:"db,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// Maintenance is a cron spec (robfig/cron, optional seconds field) for
	// storage housekeeping. Empty means "@every 1h"; "off" disables it.
	Maintenance string `json:"maintenance,omitempty"`
}
