package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBackendOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend()

	_, ok, err := m.Earliest(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	late, err := m.Insert(ctx, NewEntry(0, t0.Add(3*time.Hour), t0, Custom{Name: "late"}))
	require.NoError(t, err)
	_, err = m.Insert(ctx, NewEntry(0, t0.Add(time.Hour), t0, Custom{Name: "early"}))
	require.NoError(t, err)
	_, err = m.Insert(ctx, NewEntry(0, t0.Add(time.Hour), t0, Custom{Name: "early-too"}))
	require.NoError(t, err)

	var order []Kind
	for {
		e, ok, err := m.Earliest(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		// peeking twice returns the same entry
		again, _, _ := m.Earliest(ctx)
		require.True(t, same(e, again))
		order = append(order, e.Kind())
		require.NoError(t, m.Delete(ctx, e))
	}
	require.Equal(t, []Kind{"early", "early-too", "late"}, order)

	require.NoError(t, m.Delete(ctx, late), "deleting a missing entry is a no-op")
}

func TestMemoryBackendAvailableSignal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend()

	_, ok, err := m.Earliest(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	ch := m.Available()
	select {
	case <-ch:
		t.Fatal("signal set on empty backend")
	default:
	}

	_, err = m.Insert(ctx, NewEntry(0, t0, t0, Custom{Name: "x"}))
	require.NoError(t, err)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("insert did not raise the signal")
	}
}

func TestMemoryBackendList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryBackend()
	for i, ev := range []Event{
		Reminder{UserID: 1, Message: "a"},
		Reminder{UserID: 2, Message: "b"},
		Unmute{ChatID: 5, UserID: 1},
		Reminder{UserID: 1, Message: "c"},
	} {
		_, err := m.Insert(ctx, NewEntry(0, t0.Add(time.Duration(i)*time.Hour), t0, ev))
		require.NoError(t, err)
	}

	got, err := m.List(ctx, Filter{Kind: KindReminder, UserID: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Event.(Reminder).Message)
	require.Equal(t, "c", got[1].Event.(Reminder).Message)

	got, err = m.List(ctx, Filter{UserID: 1, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, KindUnmute, got[0].Kind())

	all, err := m.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestEntryShort(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		span      time.Duration
		threshold time.Duration
		want      bool
	}{
		{"under default", 10 * time.Second, 0, true},
		{"at default", 30 * time.Second, 0, true},
		{"over default", 31 * time.Second, 0, false},
		{"in the past", -time.Hour, 0, true},
		{"custom threshold", time.Minute, 2 * time.Minute, true},
		{"fast path disabled", time.Second, -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := NewEntry(0, t0.Add(tc.span), t0, Custom{Name: "x"})
			e.shortTask = tc.threshold
			require.Equal(t, tc.want, e.Short())
		})
	}
}

func TestSignalClearKeepsOldWaitersReleased(t *testing.T) {
	t.Parallel()
	var s Signal
	first := s.Wait()
	s.Set()
	require.True(t, s.IsSet())
	s.Clear()
	require.False(t, s.IsSet())

	select {
	case <-first:
	default:
		t.Fatal("earlier waiter was not released")
	}
	select {
	case <-s.Wait():
		t.Fatal("cleared signal released a new waiter")
	default:
	}
}
