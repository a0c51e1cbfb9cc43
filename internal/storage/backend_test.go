package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type opener func(t *testing.T) (scheduler.Backend, func() scheduler.Backend)

// drivers returns an opener per driver. The second return value reopens the
// same storage after Close, for drivers that survive a restart.
func drivers(t *testing.T) map[string]opener {
	t.Helper()
	ds := map[string]opener{
		"sqlite": func(t *testing.T) (scheduler.Backend, func() scheduler.Backend) {
			cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}
			return openT(t, cfg), func() scheduler.Backend { return openT(t, cfg) }
		},
		"file": func(t *testing.T) (scheduler.Backend, func() scheduler.Backend) {
			cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}
			return openT(t, cfg), func() scheduler.Backend { return openT(t, cfg) }
		},
		"memory": func(t *testing.T) (scheduler.Backend, func() scheduler.Backend) {
			return openT(t, Config{Driver: "memory"}), nil
		},
	}
	if dsn := os.Getenv("REMINDBOT_TEST_POSTGRES_DSN"); dsn != "" {
		ds["postgres"] = func(t *testing.T) (scheduler.Backend, func() scheduler.Backend) {
			cfg := Config{Driver: "postgres", DSN: dsn}
			b := openT(t, cfg)
			truncatePG(t, b)
			return b, func() scheduler.Backend { return openT(t, cfg) }
		}
	}
	if addr := os.Getenv("REMINDBOT_TEST_REDIS_ADDR"); addr != "" {
		ds["redis"] = func(t *testing.T) (scheduler.Backend, func() scheduler.Backend) {
			cfg := Config{Driver: "redis", Addr: addr, Prefix: "remindbot-test:" + t.Name() + ":"}
			b := openT(t, cfg)
			flushRedis(t, b)
			return b, func() scheduler.Backend { return openT(t, cfg) }
		}
	}
	return ds
}

func openT(t *testing.T, cfg Config) scheduler.Backend {
	t.Helper()
	b, err := Open(context.Background(), cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func truncatePG(t *testing.T, b scheduler.Backend) {
	t.Helper()
	pg := b.(*pgStore)
	_, err := pg.pool.Exec(context.Background(), `TRUNCATE schedule RESTART IDENTITY`)
	require.NoError(t, err)
}

func flushRedis(t *testing.T, b scheduler.Backend) {
	t.Helper()
	rs := b.(*redisStore)
	ctx := context.Background()
	require.NoError(t, rs.client.Del(ctx, rs.indexKey(), rs.seqKey()).Err())
}

func TestBackendOrderingAndDelete(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := open(t)

			_, ok, err := b.Earliest(ctx)
			require.NoError(t, err)
			require.False(t, ok)

			late, err := b.Insert(ctx, scheduler.NewEntry(0, base.Add(2*time.Hour), base, scheduler.Reminder{UserID: 1, Message: "late"}))
			require.NoError(t, err)
			early, err := b.Insert(ctx, scheduler.NewEntry(0, base.Add(time.Hour), base, scheduler.Unban{ChatID: -5, UserID: 2}))
			require.NoError(t, err)

			got, ok, err := b.Earliest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, got.Due.Equal(early.Due))
			require.Equal(t, scheduler.Unban{ChatID: -5, UserID: 2}, got.Event)
			if name != "memory" {
				require.NotZero(t, got.ID)
				require.Equal(t, early.ID, got.ID)
				require.NotEqual(t, early.ID, late.ID)
			}

			require.NoError(t, b.Delete(ctx, got))
			require.NoError(t, b.Delete(ctx, got), "delete is idempotent")

			got, ok, err = b.Earliest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "late", got.Event.(scheduler.Reminder).Message)
			require.True(t, got.Created.Equal(base))

			require.NoError(t, b.Delete(ctx, got))
			_, ok, err = b.Earliest(ctx)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestBackendSignal(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := open(t)

			_, ok, err := b.Earliest(ctx)
			require.NoError(t, err)
			require.False(t, ok)
			ch := b.Available()
			select {
			case <-ch:
				t.Fatal("signal set while empty")
			default:
			}

			_, err = b.Insert(ctx, scheduler.NewEntry(0, base.Add(time.Hour), base, scheduler.Custom{Name: "ping"}))
			require.NoError(t, err)
			select {
			case <-ch:
			case <-time.After(time.Second):
				t.Fatal("insert did not set the signal")
			}
		})
	}
}

func TestBackendList(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, _ := open(t)
			lister, ok := b.(scheduler.Lister)
			require.True(t, ok)

			events := []scheduler.Event{
				scheduler.Reminder{UserID: 10, Message: "one"},
				scheduler.Reminder{UserID: 11, Message: "other user"},
				scheduler.Unmute{ChatID: -1, UserID: 10},
				scheduler.Reminder{UserID: 10, Message: "two"},
				scheduler.Reminder{UserID: 10, Message: "three"},
			}
			for i, ev := range events {
				_, err := b.Insert(ctx, scheduler.NewEntry(0, base.Add(time.Duration(i+1)*time.Hour), base, ev))
				require.NoError(t, err)
			}

			mine, err := lister.List(ctx, scheduler.Filter{Kind: scheduler.KindReminder, UserID: 10})
			require.NoError(t, err)
			require.Len(t, mine, 3)
			require.Equal(t, "one", mine[0].Event.(scheduler.Reminder).Message)
			require.Equal(t, "three", mine[2].Event.(scheduler.Reminder).Message)

			paged, err := lister.List(ctx, scheduler.Filter{Kind: scheduler.KindReminder, UserID: 10, Offset: 1, Limit: 1})
			require.NoError(t, err)
			require.Len(t, paged, 1)
			require.Equal(t, "two", paged[0].Event.(scheduler.Reminder).Message)

			reminders, err := lister.List(ctx, scheduler.Filter{Kind: scheduler.KindReminder, Limit: 2})
			require.NoError(t, err)
			require.Len(t, reminders, 2)

			all, err := lister.List(ctx, scheduler.Filter{})
			require.NoError(t, err)
			require.Len(t, all, 5)
		})
	}
}

func TestBackendSurvivesReopen(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, reopen := open(t)
			if reopen == nil {
				t.Skip("not durable")
			}

			keep, err := b.Insert(ctx, scheduler.NewEntry(0, base.Add(time.Hour), base, scheduler.Reminder{UserID: 3, Message: "survive"}))
			require.NoError(t, err)
			gone, err := b.Insert(ctx, scheduler.NewEntry(0, base.Add(30*time.Minute), base, scheduler.Custom{Name: "gone"}))
			require.NoError(t, err)
			require.NoError(t, b.Delete(ctx, gone))
			if m, ok := b.(scheduler.Maintainer); ok {
				require.NoError(t, m.Maintain(ctx))
			}
			require.NoError(t, b.Close())

			b2 := reopen()
			got, ok, err := b2.Earliest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, keep.ID, got.ID)
			require.Equal(t, "survive", got.Event.(scheduler.Reminder).Message)

			next, err := b2.Insert(ctx, scheduler.NewEntry(0, base.Add(2*time.Hour), base, scheduler.Custom{Name: "new"}))
			require.NoError(t, err)
			require.Greater(t, next.ID, gone.ID, "ids are never reused")
		})
	}
}

func TestSchedulerRecoversAfterRestart(t *testing.T) {
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}
	ctx := context.Background()

	b1 := openT(t, cfg)
	svc1 := scheduler.New(scheduler.Config{SafeMode: true}, b1, logx.Nop(), nil)
	require.NoError(t, svc1.Run(ctx))
	_, err := svc1.AddAbs(ctx, time.Now().Add(-time.Minute).Add(time.Hour), scheduler.Reminder{UserID: 9, Message: "crash test"})
	require.NoError(t, err)
	require.NoError(t, svc1.Stop(ctx))
	require.NoError(t, b1.Close())

	// The entry came due while the process was down.
	b2 := openT(t, cfg)
	fired := make(chan scheduler.Entry, 1)
	svc2 := scheduler.New(scheduler.Config{SafeMode: true}, b2, logx.Nop(), nil,
		scheduler.WithClock(shiftedClock{offset: 2 * time.Hour}))
	svc2.AddCallback("record", func(_ context.Context, e scheduler.Entry) error {
		fired <- e
		return nil
	})
	require.NoError(t, svc2.Run(ctx))
	t.Cleanup(func() { _ = svc2.Stop(context.Background()) })

	select {
	case e := <-fired:
		require.Equal(t, "crash test", e.Event.(scheduler.Reminder).Message)
	case <-time.After(5 * time.Second):
		t.Fatal("stored entry was not dispatched after restart")
	}
	require.Eventually(t, func() bool {
		_, ok, err := b2.Earliest(ctx)
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

// shiftedClock is the wall clock moved forward by offset.
type shiftedClock struct{ offset time.Duration }

func (c shiftedClock) Now() time.Time { return time.Now().Add(c.offset) }

func (c shiftedClock) NewTimer(d time.Duration) scheduler.Timer {
	return scheduler.SystemClock{}.NewTimer(d)
}

func TestBackendNeverReturnsEarlierDue(t *testing.T) {
	due := base.Add(time.Hour + 900*time.Microsecond)
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, reopen := open(t)

			_, err := b.Insert(ctx, scheduler.NewEntry(0, due, base, scheduler.Reminder{UserID: 4, Message: "sub-ms"}))
			require.NoError(t, err)

			check := func(b scheduler.Backend) {
				got, ok, err := b.Earliest(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				require.False(t, got.Due.Before(due), "stored due %s is before requested %s", got.Due, due)
				require.Less(t, got.Due.Sub(due), dueResolution)
			}
			check(b)
			if reopen != nil {
				require.NoError(t, b.Close())
				check(reopen())
			}
		})
	}
}

func TestStoredDueRoundsUp(t *testing.T) {
	exact := base.Add(5 * time.Millisecond)
	require.True(t, storedDue(exact).Equal(exact))
	require.True(t, storedDue(exact.Add(time.Nanosecond)).Equal(exact.Add(time.Millisecond)))
	require.True(t, storedDue(exact.Add(999*time.Microsecond)).Equal(exact.Add(time.Millisecond)))
}
