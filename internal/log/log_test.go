package log

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat_FieldsAndOrphanKey(t *testing.T) {
	at := time.Date(2025, 12, 6, 10, 45, 0, 0, time.UTC)

	entry := Format(at, LevelWarn, CatSupervisor, "worker exited", "pid", 42, "crashed")

	require.Equal(t, "2025-12-06T10:45:00 [WARN] [supervisor] worker exited pid=42 crashed=<missing>\n", entry)
}

func TestInitWriter_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelInfo)
	t.Cleanup(func() { defaultLogger = nil })

	Debug(CatWorker, "hidden")
	Info(CatWorker, "shown", "tool", "echo")
	ErrorErr(CatTool, "failed", errors.New("boom"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[INFO] [worker] shown tool=echo")
	require.Contains(t, out, "[ERROR] [tool] failed error=boom")
}

func TestSetEnabled_SuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelDebug)
	t.Cleanup(func() { defaultLogger = nil })

	SetEnabled(false)
	Info(CatConfig, "muted")
	SetEnabled(true)
	Info(CatConfig, "audible")

	require.NotContains(t, buf.String(), "muted")
	require.Contains(t, buf.String(), "audible")
}

func TestNewListener_ReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelDebug)
	t.Cleanup(func() { defaultLogger = nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(ctx)
	require.NotNil(t, listener)

	Info(CatUI, "hello")

	msg := listener.Next()()
	event, ok := msg.(LogEvent)
	require.True(t, ok, "expected a log event, got %T", msg)
	require.Contains(t, event.Payload, "hello")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warning"))
	require.Equal(t, LevelError, ParseLevel("ERROR"))
	require.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
