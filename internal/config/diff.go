package config

import (
	"slices"
	"strings"

	logx "remindbot/pkg/logx"
)

// Summarize lists the sections that differ between two configs and returns
// log fields describing the new values. Secrets (token, dsn, password) are
// only ever reported as set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) || strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file", l.File.Enabled),
			logx.Bool("logging.telegram", l.Telegram.Enabled),
		)
	}

	if !sameScheduler(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.short_task", s.ShortTask),
			logx.Bool("scheduler.disable_short_task", s.DisableShortTask),
			logx.String("scheduler.max_sleep", s.MaxSleep),
			logx.String("scheduler.callback_timeout", s.CallbackTimeout),
			logx.Bool("scheduler.safe_mode", s.SafeMode == nil || *s.SafeMode),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		s := newCfg.Storage
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", s.Driver),
			logx.String("storage.path", s.Path),
			logx.Bool("storage.dsn_set", s.DSN != ""),
			logx.String("storage.addr", s.Addr),
			logx.String("storage.maintenance", s.MaintenanceSpec()),
		)
	}

	return changed, fields
}

func sameScheduler(a, b SchedulerConfig) bool {
	sa := a.SafeMode == nil || *a.SafeMode
	sb := b.SafeMode == nil || *b.SafeMode
	return sa == sb && a.ShortTask == b.ShortTask && a.DisableShortTask == b.DisableShortTask &&
		a.MaxSleep == b.MaxSleep && a.CallbackTimeout == b.CallbackTimeout
}

// RequiresRestart reports whether a change touches settings that are only read
// at startup.
func RequiresRestart(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "telegram", "scheduler", "storage":
			return true
		}
	}
	return false
}
