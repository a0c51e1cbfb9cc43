package storage

import (
	"context"
	"fmt"
	"strings"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Open initializes the configured backend.
func Open(ctx context.Context, cfg Config, log logx.Logger) (scheduler.Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory", "none":
		log.Warn("memory storage selected; pending entries will not survive a restart")
		return scheduler.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
