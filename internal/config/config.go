// Package config provides configuration types and defaults for rinawarp.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
)

// Config holds all configuration options for rinawarp.
type Config struct {
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// SupervisorConfig controls how the worker process is launched and restarted.
type SupervisorConfig struct {
	// Entry is the worker executable. Empty means the running binary.
	Entry string   `mapstructure:"entry" yaml:"entry"`
	Args  []string `mapstructure:"args" yaml:"args"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	// StableAfter resets the restart count once a worker stays up this long.
	// 0 resets on every successful spawn.
	StableAfter   time.Duration `mapstructure:"stable_after" yaml:"stable_after"`
	LateResultTTL time.Duration `mapstructure:"late_result_ttl" yaml:"late_result_ttl"`
	CrashWindow   time.Duration `mapstructure:"crash_window" yaml:"crash_window"`
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// WatchEntry restarts the worker when its executable or env file changes.
	WatchEntry    bool          `mapstructure:"watch_entry" yaml:"watch_entry"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// WorkerConfig holds settings read by the worker process.
type WorkerConfig struct {
	// DBPath is the SQLite database backing memory and crash history.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// EnvFile is an optional dotenv file merged into the worker environment.
	EnvFile      string          `mapstructure:"env_file" yaml:"env_file"`
	Shell        string          `mapstructure:"shell" yaml:"shell"`
	ShellTimeout time.Duration   `mapstructure:"shell_timeout" yaml:"shell_timeout"`
	Permissions  map[string]bool `mapstructure:"permissions" yaml:"permissions"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/rinawarp/traces/traces.jsonl
	FilePath string `mapstructure:"file_path" yaml:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`

	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/rinawarp/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rinawarp", "traces", "traces.jsonl")
}

// DefaultDBPath returns ~/.rinawarp/agent.db, or agent.db in the working
// directory if the home dir is unavailable.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.db"
	}
	return filepath.Join(home, ".rinawarp", "agent.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	perms := make(map[string]bool)
	for p, on := range tools.AllPermissions() {
		perms[string(p)] = on
	}
	return Config{
		Supervisor: SupervisorConfig{
			Args:           append([]string(nil), supervisor.DefaultWorkerArgs...),
			RequestTimeout: supervisor.DefaultRequestTimeout,
			InitialBackoff: supervisor.DefaultInitialBackoff,
			MaxBackoff:     supervisor.DefaultMaxBackoff,
			StableAfter:    supervisor.DefaultStableAfter,
			LateResultTTL:  supervisor.DefaultLateResultTTL,
			CrashWindow:    supervisor.DefaultCrashWindow,
			GracePeriod:    3 * time.Second,
			WatchEntry:     false,
			WatchDebounce:  time.Second,
		},
		Worker: WorkerConfig{
			DBPath:       DefaultDBPath(),
			Shell:        tools.DefaultShell,
			ShellTimeout: tools.DefaultCommandTimeout,
			Permissions:  perms,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "localhost:9464",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     tracing.ExporterFile,
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  tracing.DefaultServiceName,
		},
	}
}

// Validate checks the whole configuration.
func Validate(c Config) error {
	if err := ValidateSupervisor(c.Supervisor); err != nil {
		return err
	}
	if err := ValidateWorker(c.Worker); err != nil {
		return err
	}
	if err := ValidateMetrics(c.Metrics); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateSupervisor checks supervisor configuration for errors.
// Zero durations are allowed and fall back to defaults.
func ValidateSupervisor(s SupervisorConfig) error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"request_timeout", s.RequestTimeout},
		{"initial_backoff", s.InitialBackoff},
		{"max_backoff", s.MaxBackoff},
		{"stable_after", s.StableAfter},
		{"late_result_ttl", s.LateResultTTL},
		{"crash_window", s.CrashWindow},
		{"grace_period", s.GracePeriod},
		{"watch_debounce", s.WatchDebounce},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("supervisor.%s must not be negative, got %s", d.name, d.d)
		}
	}
	if s.InitialBackoff > 0 && s.MaxBackoff > 0 && s.MaxBackoff < s.InitialBackoff {
		return fmt.Errorf("supervisor.max_backoff (%s) must be at least initial_backoff (%s)", s.MaxBackoff, s.InitialBackoff)
	}
	return nil
}

// ValidateWorker checks worker configuration for errors.
func ValidateWorker(w WorkerConfig) error {
	if w.ShellTimeout < 0 {
		return fmt.Errorf("worker.shell_timeout must not be negative, got %s", w.ShellTimeout)
	}
	for name := range w.Permissions {
		if !knownPermission(name) {
			return fmt.Errorf("worker.permissions: unknown permission %q", name)
		}
	}
	return nil
}

func knownPermission(name string) bool {
	_, ok := tools.AllPermissions()[tools.Permission(name)]
	return ok
}

// ValidateMetrics checks metrics configuration for errors.
func ValidateMetrics(m MetricsConfig) error {
	if m.Enabled && m.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if t.Enabled {
		if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ToolPermissions converts the permissions map for the worker. Permissions
// absent from the map stay enabled.
func (w WorkerConfig) ToolPermissions() tools.Permissions {
	perms := tools.AllPermissions()
	for name, on := range w.Permissions {
		perms[tools.Permission(name)] = on
	}
	return perms
}

// TracingConfig converts to the tracing package's Config for a process
// playing role.
func (t TracingConfig) TracingConfig(role string) tracing.Config {
	name := t.ServiceName
	if name == "" {
		name = tracing.DefaultServiceName
	}
	return tracing.Config{
		Enabled:      t.Enabled,
		Exporter:     t.Exporter,
		FilePath:     t.FilePath,
		OTLPEndpoint: t.OTLPEndpoint,
		SampleRate:   t.SampleRate,
		ServiceName:  name,
		Role:         role,
	}
}

// SupervisorConfig builds the supervisor settings. The caller fills in
// the runtime collaborators (sink, metrics, tracer, crash store).
func (c Config) SupervisorConfig() supervisor.Config {
	s := c.Supervisor
	return supervisor.Config{
		Entry:          s.Entry,
		Args:           s.Args,
		EnvFile:        c.Worker.EnvFile,
		GracePeriod:    s.GracePeriod,
		RequestTimeout: s.RequestTimeout,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
		StableAfter:    s.StableAfter,
		LateResultTTL:  s.LateResultTTL,
		CrashWindow:    s.CrashWindow,
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# RinaWarp Agent Configuration

supervisor:
  # Worker executable (default: this binary, started as "rinawarp worker")
  # entry: /usr/local/bin/rinawarp
  args: ["worker"]
  request_timeout: 20s    # Default per-request timeout
  initial_backoff: 500ms  # First restart delay after a crash
  max_backoff: 8s         # Restart delay cap (delay doubles per crash)
  stable_after: 10s       # Uptime after which the restart count resets
  late_result_ttl: 5m     # How long timed-out request ids are remembered
  crash_window: 1h        # Window for health crash counts
  grace_period: 3s        # Time a stopping worker gets before it is killed
  watch_entry: false      # Restart the worker when its binary changes
  watch_debounce: 1s

worker:
  # db_path: ~/.rinawarp/agent.db
  # env_file: ~/.rinawarp/agent.env
  shell: /bin/sh
  shell_timeout: 30s
  # Disable a permission to make its tools return "permission denied"
  permissions:
    shell: true
    fs: true
    network: true
    process: true
    git: true

# Prometheus metrics on /metrics (plus /healthz) while supervising
metrics:
  enabled: false
  addr: localhost:9464

# Distributed tracing
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/rinawarp/traces/traces.jsonl
#   sample_rate: 1.0
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
