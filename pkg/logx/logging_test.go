package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type chatSink struct{ lines chan string }

func (c chatSink) SendLog(_ context.Context, chatID int64, threadID int, text string) error {
	c.lines <- text
	return nil
}

func TestFileSinkWritesStructuredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(String("comp", "test")).Info("hello", Int64("id", 7), Duration("late", time.Second))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(b)
	require.Contains(t, line, `"comp":"test"`)
	require.Contains(t, line, `"id":7`)
	require.Contains(t, line, `"message":"hello"`)
}

func TestChatSinkRespectsMinLevel(t *testing.T) {
	sink := chatSink{lines: make(chan string, 4)}
	svc, log := New(Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")}}, sink)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetChatTarget(-100, 2)
	svc.Apply(Config{
		File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "y.log")},
		Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})

	log.Info("quiet")
	log.Warn("loud", String("entry", "id=3"))

	select {
	case line := <-sink.lines:
		require.True(t, strings.Contains(line, "loud"), line)
	case <-time.After(2 * time.Second):
		t.Fatal("warn line never reached the chat sink")
	}
	select {
	case line := <-sink.lines:
		t.Fatalf("unexpected chat line %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNopAndZero(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	require.False(t, Nop().IsZero())
	Nop().Error("dropped", Err(os.ErrNotExist))
}
