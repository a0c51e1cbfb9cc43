package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  group_log: "-1001234:17"
  poll_timeout: 15s
logging:
  level: debug
  console: true
scheduler:
  short_task: 45s
  max_sleep: 6h
storage:
  driver: sqlite
  path: ./data/remindbot.db
  maintenance: "0 */30 * * * *"
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	y, err := Decode("bot.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, y.Telegram.OwnerUserIDs)
	require.Equal(t, "sqlite", y.Storage.Driver)

	j, err := Decode("bot.json", []byte(`{"telegram":{"token":"t"},"storage":{"driver":"memory"}}`))
	require.NoError(t, err)
	require.Equal(t, "memory", j.Storage.Driver)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	_, err := Decode("bot.json", []byte(`{"telegram":{"tokn":"x"}}`))
	require.Error(t, err)

	_, err = Decode("bot.yaml", []byte("plugins:\n  ping: {}\n"))
	require.Error(t, err)

	_, err = Decode("bot.json", []byte(`{} {}`))
	require.ErrorContains(t, err, "trailing")
}

func TestSchedulerSettings(t *testing.T) {
	t.Parallel()
	s, err := SchedulerConfig{}.Settings()
	require.NoError(t, err)
	require.Equal(t, SchedulerSettings{
		ShortTask:       30 * time.Second,
		MaxSleep:        24 * time.Hour,
		CallbackTimeout: 2 * time.Minute,
		SafeMode:        true,
	}, s)

	off := false
	s, err = SchedulerConfig{ShortTask: "1m", DisableShortTask: true, SafeMode: &off}.Settings()
	require.NoError(t, err)
	require.Negative(t, s.ShortTask)
	require.False(t, s.SafeMode)

	_, err = SchedulerConfig{MaxSleep: "10ms"}.Settings()
	require.Error(t, err)
	_, err = SchedulerConfig{ShortTask: "soon"}.Settings()
	require.Error(t, err)
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in     string
		chat   int64
		thread int
		ok     bool
		err    bool
	}{
		{"", 0, 0, false, false},
		{"-1001234", -1001234, 0, true, false},
		{"-1001234:17", -1001234, 17, true, false},
		{"chat", 0, 0, false, true},
		{"-1:x", 0, 0, false, true},
	}
	for _, tc := range cases {
		chat, thread, ok, err := ParseGroupLog(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.chat, chat, tc.in)
		require.Equal(t, tc.thread, thread, tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("bot.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg, true))

	bad := *cfg
	bad.Telegram.Token = ""
	bad.Storage = StorageConfig{Driver: "postgres", Maintenance: "every day"}
	err = Validate(&bad, true)
	require.ErrorContains(t, err, "telegram.token")
	require.ErrorContains(t, err, "storage.dsn")
	require.ErrorContains(t, err, "storage.maintenance")

	require.NoError(t, Validate(&Config{Storage: StorageConfig{Driver: "memory"}}, false))
	require.Error(t, Validate(&Config{Storage: StorageConfig{Driver: "mongo"}}, false))
}

func TestMaintenanceSpec(t *testing.T) {
	t.Parallel()
	require.Equal(t, DefaultMaintenance, StorageConfig{}.MaintenanceSpec())
	require.Empty(t, StorageConfig{Maintenance: "off"}.MaintenanceSpec())
	require.Equal(t, "@daily", StorageConfig{Maintenance: " @daily "}.MaintenanceSpec())
}

func TestSummarizeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "old"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:secret@h/db"}}
	b := &Config{Telegram: TelegramConfig{Token: "new"}, Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:other@h/db"}}

	changed, fields := Summarize(a, b)
	require.Equal(t, []string{"telegram", "storage"}, changed)
	require.NotEmpty(t, fields)
	require.True(t, RequiresRestart(changed))

	changed, _ = Summarize(a, a)
	require.Empty(t, changed)

	la := &Config{Logging: LoggingConfig{Level: "info"}}
	lb := &Config{Logging: LoggingConfig{Level: "debug"}}
	changed, _ = Summarize(la, lb)
	require.Equal(t, []string{"logging"}, changed)
	require.False(t, RequiresRestart(changed))
}

func TestManagerWatchPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "loud" {
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// let the watcher attach
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"loud"}}`), 0o600))
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config was published: %+v", cfg.Logging)
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	select {
	case cfg := <-sub:
		require.Equal(t, "debug", cfg.Logging.Level)
		require.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}

	cancel()
	<-done
}
