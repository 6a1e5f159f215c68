// Package log is rinawarp's category logger. Entries go to a writer (a
// tea log file for the console, stderr elsewhere) and are republished on
// a broker so the console can tail them. Nothing is logged until one of
// the Init functions runs.
package log

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/pubsub"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name, in any case, to a Level. "warning" is
// accepted for LevelWarn; anything unrecognized is LevelInfo.
func ParseLevel(name string) Level {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		return LevelWarn
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Category groups related log messages.
type Category string

const (
	CatSupervisor Category = "supervisor" // worker lifecycle, restarts, pending requests
	CatWorker     Category = "worker"     // worker-side handler and relayed worker stderr
	CatIPC        Category = "ipc"        // channel framing and decode errors
	CatTool       Category = "tool"
	CatConfig     Category = "config"
	CatDB         Category = "db"
	CatCache      Category = "cache"
	CatWatcher    Category = "watcher"
	CatMetrics    Category = "metrics"
	CatUI         Category = "ui"
)

type logger struct {
	mu       sync.Mutex
	w        io.Writer
	muted    bool
	minLevel Level
	broker   *pubsub.Broker[string]
}

var defaultLogger *logger

func install(w io.Writer, minLevel Level) {
	defaultLogger = &logger{w: w, minLevel: minLevel, broker: pubsub.NewBroker[string]()}
}

// InitWithTeaLog logs every level to path through tea.LogToFile, which
// keeps the output away from the console's screen. The returned func
// closes the file.
func InitWithTeaLog(path, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	install(f, LevelDebug)
	return func() { _ = f.Close() }, nil
}

// InitWriter logs entries at minLevel and above to w. The worker passes
// os.Stderr because its stdout carries protocol messages.
func InitWriter(w io.Writer, minLevel Level) {
	install(w, minLevel)
}

// SetEnabled mutes or unmutes the logger.
func SetEnabled(enabled bool) {
	if l := defaultLogger; l != nil {
		l.mu.Lock()
		l.muted = !enabled
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { write(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any)  { write(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any)  { write(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { write(LevelError, cat, msg, fields) }

// ErrorErr logs at error level with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	text := "<nil>"
	if err != nil {
		text = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", text))
}

// Format renders one entry as a single newline-terminated line:
//
//	2025-12-06T10:45:00 [WARN] [supervisor] worker exited pid=42
//
// A trailing key without a value renders as key=<missing>.
func Format(at time.Time, level Level, cat Category, msg string, fields ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", at.Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 == len(fields) {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')
	return b.String()
}

func write(level Level, cat Category, msg string, fields []any) {
	l := defaultLogger
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.muted || level < l.minLevel {
		return
	}

	entry := Format(time.Now(), level, cat, msg, fields...)
	_, _ = io.WriteString(l.w, entry)
	l.broker.Publish(pubsub.LogEntry, entry)
}

// LogEvent is one published log entry.
type LogEvent = pubsub.Event[string]

// LogListener tails log entries from a Bubble Tea model.
type LogListener = pubsub.Listener[string]

// NewListener tails entries logged after it is created, until ctx is
// done. It returns nil when logging is not initialized.
func NewListener(ctx context.Context) *LogListener {
	l := defaultLogger
	if l == nil {
		return nil
	}
	return pubsub.ListenTo[string](ctx, l.broker)
}
