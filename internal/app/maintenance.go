package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

// maintenance runs storage housekeeping on a cron spec and logs the next due
// time with the dispatch counters.
type maintenance struct {
	log   logx.Logger
	sched *scheduler.Service
	c     *cron.Cron
}

func newMaintenance(spec string, sched *scheduler.Service, log logx.Logger) (*maintenance, error) {
	m := &maintenance{log: log, sched: sched}
	if spec == "" {
		return m, nil
	}
	m.c = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	if _, err := m.c.AddFunc(spec, func() { m.runOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *maintenance) Start() {
	if m.c != nil {
		m.c.Start()
	}
}

// Stop waits for a running job, bounded by ctx.
func (m *maintenance) Stop(ctx context.Context) error {
	if m.c == nil {
		return nil
	}
	select {
	case <-m.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *maintenance) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	if mt, ok := m.sched.Backend().(scheduler.Maintainer); ok {
		if err := mt.Maintain(ctx); err != nil {
			m.log.Warn("storage maintenance failed", logx.Err(err))
		}
	}

	fields := []logx.Field{logx.Duration("took", time.Since(start))}
	// Earliest peeks one row; the pending set is never loaded here.
	if next, ok, err := m.sched.Backend().Earliest(ctx); err != nil {
		m.log.Warn("next due lookup failed", logx.Err(err))
	} else if ok {
		fields = append(fields, logx.Time("next_due", next.Due))
	}
	snap := m.sched.Snapshot()
	fields = append(fields,
		logx.Uint64("dispatched", snap.Dispatched),
		logx.Uint64("failed", snap.Failed),
		logx.Int64("short_pending", snap.ShortPending),
	)
	m.log.Info("storage maintenance", fields...)
}
