package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []kit.ChatTarget
	texts  []string
	notify chan string
}

func newFake() *fakeMessenger { return &fakeMessenger{notify: make(chan string, 16)} }

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	select {
	case f.notify <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}, nil
}

func (f *fakeMessenger) LiftRestrictions(context.Context, int64, int64) error { return nil }
func (f *fakeMessenger) Unban(context.Context, int64, int64) error            { return nil }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{name: "default sqlite", in: config.StorageConfig{Path: "a.db", BusyTimeout: "2s"}, driver: ""},
		{name: "sqlite needs path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "postgres", in: config.StorageConfig{Driver: "Postgres", DSN: "postgres://x"}, driver: "postgres"},
		{name: "postgres needs dsn", in: config.StorageConfig{Driver: "pg"}, wantErr: true},
		{name: "redis", in: config.StorageConfig{Driver: "redis", Addr: "localhost:6379"}, driver: "redis"},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "./q"}, driver: "file"},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "unknown", in: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.driver, sc.Driver)
		})
	}

	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Path: "a.db", BusyTimeout: "2s"}})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, sc.BusyTimeout)
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()
	off := false
	sc, err := mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{
		DisableShortTask: true,
		MaxSleep:         "1h",
		SafeMode:         &off,
	}})
	require.NoError(t, err)
	require.Negative(t, sc.ShortTask)
	require.Equal(t, time.Hour, sc.MaxSleep)
	require.False(t, sc.SafeMode)

	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{MaxSleep: "soon"}})
	require.Error(t, err)
}

func TestGroupLogTargetFallsBackToLoggingThread(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Telegram.GroupLog = "-1001"
	cfg.Logging.Telegram.ThreadID = 9
	chatID, threadID, ok := groupLogTarget(cfg)
	require.True(t, ok)
	require.Equal(t, int64(-1001), chatID)
	require.Equal(t, 9, threadID)

	cfg.Telegram.GroupLog = "-1001:3"
	_, threadID, _ = groupLogTarget(cfg)
	require.Equal(t, 3, threadID)

	cfg.Telegram.GroupLog = ""
	_, _, ok = groupLogTarget(cfg)
	require.False(t, ok)
}

func TestAlerterForwardsFailures(t *testing.T) {
	t.Parallel()
	msg := newFake()
	a := newAlerter(msg, logx.Nop())

	failed := eventbus.Event{Type: scheduler.EventFailed, Data: scheduler.DispatchEvent{
		ID: 12, Kind: scheduler.KindReminder, Callback: "handlers", Error: "chat not found <x>",
	}}

	// no target: dropped
	a.forward(context.Background(), failed)
	require.Empty(t, msg.texts)

	a.SetTarget(-100, 4)
	a.forward(context.Background(), failed)
	a.forward(context.Background(), eventbus.Event{Type: scheduler.EventDispatched, Data: scheduler.DispatchEvent{}})

	require.Len(t, msg.texts, 1)
	require.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 4}, msg.sent[0])
	require.Contains(t, msg.texts[0], "reminder_complete")
	require.Contains(t, msg.texts[0], "chat not found &lt;x&gt;")
}

func TestAlertTextStopped(t *testing.T) {
	t.Parallel()
	text := alertText(eventbus.Event{Type: scheduler.EventStopped, Data: scheduler.DispatchEvent{Error: "scheduler stopped: disk full"}})
	require.Contains(t, text, "disk full")
}

// countingBackend records List calls and Maintain runs.
type countingBackend struct {
	*scheduler.MemoryBackend
	lists     int
	maintains int
}

func (b *countingBackend) List(ctx context.Context, f scheduler.Filter) ([]scheduler.Entry, error) {
	b.lists++
	return b.MemoryBackend.List(ctx, f)
}

func (b *countingBackend) Maintain(context.Context) error {
	b.maintains++
	return nil
}

func TestMaintenanceRunOnce(t *testing.T) {
	t.Parallel()
	b := &countingBackend{MemoryBackend: scheduler.NewMemoryBackend()}
	sched := scheduler.New(scheduler.Config{}, b, logx.Nop(), eventbus.New())
	t.Cleanup(func() { _ = sched.Close(context.Background()) })
	for i := 1; i <= 3; i++ {
		_, err := sched.Add(context.Background(), time.Duration(i)*time.Hour, scheduler.Reminder{UserID: int64(i)})
		require.NoError(t, err)
	}

	m, err := newMaintenance("@every 1h", sched, logx.Nop())
	require.NoError(t, err)
	m.runOnce(context.Background())
	require.Equal(t, 1, b.maintains)
	require.Zero(t, b.lists, "maintenance must not enumerate the pending set")

	m.Start()
	require.NoError(t, m.Stop(context.Background()))

	_, err = newMaintenance("every tuesday", sched, logx.Nop())
	require.Error(t, err)
}

func TestAppDeliversDurableReminder(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`{
  "telegram": {"token": "1:test", "group_log": "-100200"},
  "logging": {"level": "error"},
  "scheduler": {"short_task": "10ms", "max_sleep": "1s"},
  "storage": {"driver": "sqlite", "path": %q, "maintenance": "off"}
}`, filepath.Join(dir, "schedule.db")))

	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	msg := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, cfgm, cfg, msg)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	e, err := a.Scheduler().Add(ctx, 300*time.Millisecond, scheduler.Reminder{UserID: 77, ChatID: -5, Message: "stand up"})
	require.NoError(t, err)
	require.NotZero(t, e.ID, "entry should have been persisted")

	select {
	case text := <-msg.notify:
		require.Contains(t, text, "stand up")
	case <-time.After(5 * time.Second):
		t.Fatal("reminder was not delivered")
	}

	require.Eventually(t, func() bool {
		pending, ok, err := a.Scheduler().Pending(ctx, scheduler.Filter{})
		return err == nil && ok && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopShutdown))
}

func TestOfflineListAndCancel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`{
  "storage": {"driver": "sqlite", "path": %q}
}`, filepath.Join(dir, "schedule.db")))
	ctx := context.Background()

	sched, _, err := OpenOffline(ctx, path, logx.Nop())
	require.NoError(t, err)
	e, err := sched.Add(ctx, 48*time.Hour, scheduler.Unban{ChatID: -1, UserID: 2})
	require.NoError(t, err)
	require.NoError(t, sched.Close(ctx))

	sched, _, err = OpenOffline(ctx, path, logx.Nop())
	require.NoError(t, err)
	pending, ok, err := sched.Pending(ctx, scheduler.Filter{Kind: scheduler.KindUnban})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, pending, 1)
	require.Equal(t, e.ID, pending[0].ID)

	require.NoError(t, sched.Remove(ctx, scheduler.Entry{ID: e.ID}))
	pending, _, err = sched.Pending(ctx, scheduler.Filter{})
	require.NoError(t, err)
	require.Empty(t, pending)
	require.NoError(t, sched.Close(ctx))
}
