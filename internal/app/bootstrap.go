package app

import (
	"fmt"
	"strings"

	"remindbot/internal/config"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

// ---- config mapping ----

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	st, err := cfg.Scheduler.Settings()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		ShortTask:       st.ShortTask,
		MaxSleep:        st.MaxSleep,
		SafeMode:        st.SafeMode,
		CallbackTimeout: st.CallbackTimeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:   driver,
		Path:     strings.TrimSpace(sc.Path),
		DSN:      strings.TrimSpace(sc.DSN),
		Addr:     strings.TrimSpace(sc.Addr),
		Password: sc.Password,
		DB:       sc.DB,
		Prefix:   sc.Prefix,
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "file":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
	case "postgres", "postgresql", "pg":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	case "redis":
		if out.Addr == "" {
			return storage.Config{}, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
	case "memory", "none":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, nil
}

// groupLogTarget returns the operator chat, or ok=false when none is configured.
func groupLogTarget(cfg *config.Config) (chatID int64, threadID int, ok bool) {
	chatID, threadID, ok, err := config.ParseGroupLog(cfg.Telegram.GroupLog)
	if err != nil || !ok {
		return 0, 0, false
	}
	if threadID == 0 {
		threadID = cfg.Logging.Telegram.ThreadID
	}
	return chatID, threadID, true
}
