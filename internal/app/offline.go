package app

import (
	"context"
	"fmt"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// OpenOffline opens the configured storage behind a scheduler that is never
// started. Operator commands use it to list and cancel stored entries without
// a Telegram connection. Close the returned service when done.
func OpenOffline(ctx context.Context, cfgPath string, log logx.Logger) (*scheduler.Service, *config.Config, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg, false); err != nil {
		return nil, nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return scheduler.New(schedCfg, backend, log.With(logx.String("comp", "scheduler")), eventbus.New()), cfg, nil
}
