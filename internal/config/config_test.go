package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 20*time.Second, cfg.Supervisor.RequestTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Supervisor.InitialBackoff)
	require.Equal(t, 8*time.Second, cfg.Supervisor.MaxBackoff)
	require.Equal(t, []string{"worker"}, cfg.Supervisor.Args)
	require.False(t, cfg.Supervisor.WatchEntry)
	require.Equal(t, "/bin/sh", cfg.Worker.Shell)
	require.Equal(t, "localhost:9464", cfg.Metrics.Addr)
	require.False(t, cfg.Tracing.Enabled)
	require.NoError(t, Validate(cfg))
}

func TestDefaults_AllPermissionsEnabled(t *testing.T) {
	cfg := Defaults()

	require.Len(t, cfg.Worker.Permissions, len(tools.AllPermissions()))
	for name, on := range cfg.Worker.Permissions {
		require.True(t, on, "permission %q should default to enabled", name)
	}
}

func TestDefaults_ArgsDoNotAliasPackageDefault(t *testing.T) {
	cfg := Defaults()
	cfg.Supervisor.Args[0] = "mutated"

	require.Equal(t, []string{"worker"}, supervisor.DefaultWorkerArgs)
}

func TestDefaultDBPath(t *testing.T) {
	path := DefaultDBPath()
	require.Equal(t, "agent.db", filepath.Base(path))
}

func TestValidateSupervisor_Empty(t *testing.T) {
	// Zero durations fall back to defaults
	require.NoError(t, ValidateSupervisor(SupervisorConfig{}))
}

func TestValidateSupervisor_NegativeDuration(t *testing.T) {
	err := ValidateSupervisor(SupervisorConfig{RequestTimeout: -time.Second})
	require.Error(t, err)
	require.Contains(t, err.Error(), "supervisor.request_timeout must not be negative")
}

func TestValidateSupervisor_MaxBelowInitial(t *testing.T) {
	err := ValidateSupervisor(SupervisorConfig{
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Second,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "supervisor.max_backoff")
}

func TestValidateWorker_UnknownPermission(t *testing.T) {
	err := ValidateWorker(WorkerConfig{Permissions: map[string]bool{"teleport": true}})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown permission "teleport"`)
}

func TestValidateWorker_NegativeShellTimeout(t *testing.T) {
	err := ValidateWorker(WorkerConfig{ShellTimeout: -1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "worker.shell_timeout")
}

func TestValidateMetrics(t *testing.T) {
	require.NoError(t, ValidateMetrics(MetricsConfig{}))
	require.NoError(t, ValidateMetrics(MetricsConfig{Enabled: true, Addr: ":9464"}))

	err := ValidateMetrics(MetricsConfig{Enabled: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "metrics.addr is required")
}

// Tests for tracing config validation

func TestValidateTracing_Empty(t *testing.T) {
	require.NoError(t, ValidateTracing(TracingConfig{}))
}

func TestValidateTracing_SampleRateOutOfRange(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		err := ValidateTracing(TracingConfig{SampleRate: rate})
		require.Error(t, err, "rate %v should be rejected", rate)
		require.Contains(t, err.Error(), "tracing.sample_rate must be between 0.0 and 1.0")
	}
}

func TestValidateTracing_ValidExporters(t *testing.T) {
	exporters := []string{"none", "file", "stdout", "otlp"}
	for _, exporter := range exporters {
		err := ValidateTracing(TracingConfig{Exporter: exporter, SampleRate: 1.0})
		require.NoError(t, err, "exporter %q should be valid", exporter)
	}
}

func TestValidateTracing_InvalidExporter(t *testing.T) {
	err := ValidateTracing(TracingConfig{Exporter: "jaeger"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.exporter must be")
}

func TestValidateTracing_EnabledFileRequiresPath(t *testing.T) {
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "file", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.file_path is required")
}

func TestValidateTracing_EnabledOTLPRequiresEndpoint(t *testing.T) {
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.otlp_endpoint is required")
}

func TestWorkerConfig_ToolPermissions(t *testing.T) {
	w := WorkerConfig{Permissions: map[string]bool{"shell": false}}
	perms := w.ToolPermissions()

	require.False(t, perms.Allows(tools.PermShell))
	require.True(t, perms.Allows(tools.PermGit), "absent permissions stay enabled")
}

func TestTracingConfig_Convert(t *testing.T) {
	tc := TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5}.TracingConfig(tracing.RoleWorker)

	require.True(t, tc.Enabled)
	require.Equal(t, tracing.ExporterStdout, tc.Exporter)
	require.Equal(t, 0.5, tc.SampleRate)
	require.Equal(t, tracing.DefaultServiceName, tc.ServiceName)
	require.Equal(t, tracing.RoleWorker, tc.Role)
}

func TestConfig_SupervisorConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supervisor.Entry = "/usr/local/bin/rinawarp"
	cfg.Supervisor.StableAfter = 0
	cfg.Worker.EnvFile = "/etc/rinawarp/agent.env"

	sc := cfg.SupervisorConfig()

	require.Equal(t, "/usr/local/bin/rinawarp", sc.Entry)
	require.Equal(t, []string{"worker"}, sc.Args)
	require.Equal(t, "/etc/rinawarp/agent.env", sc.EnvFile)
	require.Equal(t, 20*time.Second, sc.RequestTimeout)
	require.Zero(t, sc.StableAfter)
	require.Nil(t, sc.Spawner, "runtime collaborators are left to the caller")
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
supervisor:
  request_timeout: 5s
  max_backoff: 2s
worker:
  shell: /bin/bash
  permissions:
    network: false
`)))

	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, cfg.Supervisor.RequestTimeout)
	require.Equal(t, 2*time.Second, cfg.Supervisor.MaxBackoff)
	require.Equal(t, 500*time.Millisecond, cfg.Supervisor.InitialBackoff)
	require.Equal(t, "/bin/bash", cfg.Worker.Shell)
	require.False(t, cfg.Worker.ToolPermissions().Allows(tools.PermNetwork))
	require.True(t, cfg.Worker.ToolPermissions().Allows(tools.PermShell))
}

func TestLoad_RejectsInvalid(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader("tracing:\n  sample_rate: 3\n")))

	_, err := Load(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tracing.sample_rate")
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	v := viper.New()
	v.Set("worker.db_path", "~/data/agent.db")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "data", "agent.db"), cfg.Worker.DBPath)
}

func TestExpandHome_LeavesOtherPaths(t *testing.T) {
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	require.Equal(t, "rel/~/path", ExpandHome("rel/~/path"))
	require.Equal(t, "", ExpandHome(""))
}

func TestDefaultConfigTemplate_LoadsToDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(DefaultConfigTemplate())))

	cfg, err := Load(v)
	require.NoError(t, err)

	want := Defaults()
	require.Equal(t, want.Supervisor, cfg.Supervisor)
	require.Equal(t, want.Worker.Permissions, cfg.Worker.Permissions)
	require.Equal(t, want.Metrics, cfg.Metrics)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
