package supervisor

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/metrics"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/process"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
)

// WorkerMarkerEnv is set to "1" in the worker's environment. The binary
// checks it to decide whether to start in worker mode.
const WorkerMarkerEnv = "RINAWARP_AGENT_WORKER"

// Default values for Config.
const (
	DefaultRequestTimeout = 20 * time.Second
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
	DefaultStableAfter    = 10 * time.Second
	DefaultLateResultTTL  = 5 * time.Minute
	DefaultCrashWindow    = time.Hour
)

// DefaultWorkerArgs are passed to the worker when Config.Args is nil.
var DefaultWorkerArgs = []string{"worker"}

// Sink receives every message the supervisor forwards to the UI: each
// inbound worker message, matched or not, plus the synthetic agent:*
// lifecycle events. It is called from several goroutines and must not block.
type Sink func(msg protocol.Envelope)

// Config configures a Supervisor.
type Config struct {
	// Entry is the worker executable. Empty means the running binary.
	Entry string
	// Args are passed to the worker. Nil means DefaultWorkerArgs.
	Args []string
	// Env entries ("KEY=VALUE") added to the inherited environment.
	Env []string
	// EnvFile is an optional dotenv file merged into the worker environment
	// at every spawn. Env entries win over file entries.
	EnvFile string
	// Dir is the worker's working directory. Empty means inherit.
	Dir string
	// GracePeriod is how long a stopping worker may take before it is killed.
	// Zero means process.DefaultGracePeriod.
	GracePeriod time.Duration

	// RequestTimeout applies to RequestTool calls that do not set one.
	RequestTimeout time.Duration
	// InitialBackoff and MaxBackoff bound the crash restart delay, which
	// doubles per consecutive crash.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StableAfter is how long a worker must stay up before the restart
	// count and backoff reset. Zero resets them as soon as a spawn succeeds.
	StableAfter time.Duration
	// LateResultTTL is how long timed-out request ids are remembered so a
	// late result can be told apart from an unknown one.
	LateResultTTL time.Duration
	// CrashWindow is the period Health counts crashes over.
	CrashWindow time.Duration

	// Spawner launches workers. If nil, process.ExecSpawner is used.
	Spawner process.Spawner
	// Sink is optional; Subscribe offers the same stream.
	Sink Sink
	// Metrics is optional.
	Metrics *metrics.Recorder
	// Tracer is optional; a no-op tracer is used when nil.
	Tracer trace.Tracer
	// Crashes persists crash history. Optional.
	Crashes CrashStore
}

// DefaultConfig returns a Config with every duration set to its default.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		StableAfter:    DefaultStableAfter,
		LateResultTTL:  DefaultLateResultTTL,
		CrashWindow:    DefaultCrashWindow,
	}
}

// withDefaults fills zero durations. StableAfter is left alone because
// zero is meaningful.
func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.LateResultTTL <= 0 {
		c.LateResultTTL = DefaultLateResultTTL
	}
	if c.CrashWindow <= 0 {
		c.CrashWindow = DefaultCrashWindow
	}
	if c.Args == nil {
		c.Args = DefaultWorkerArgs
	}
	if c.Spawner == nil {
		c.Spawner = process.ExecSpawner{}
	}
	return c
}
