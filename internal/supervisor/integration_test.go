package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/worker"
)

// TestMain doubles as the worker: the supervisor re-executes the test
// binary with the worker marker set.
func TestMain(m *testing.M) {
	if os.Getenv(WorkerMarkerEnv) == "1" {
		os.Exit(runTestWorker())
	}
	os.Exit(m.Run())
}

func runTestWorker() int {
	r := tools.NewRegistry()
	r.MustRegister(tools.Echo(), tools.Sleep())
	r.MustRegister(tools.Tool{
		Name: "crash",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			os.Exit(3)
			return nil, nil
		},
	}, tools.Tool{
		Name: "env",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			name, _ := call.Args["name"].(string)
			return os.Getenv(name), nil
		},
	})

	if err := worker.NewServer(worker.Config{Registry: r}).Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		return 1
	}
	return 0
}

func newProcessSupervisor(t *testing.T, mutate func(*Config)) (*Supervisor, *sinkRecorder) {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	rec := newSinkRecorder()
	cfg := DefaultConfig()
	cfg.Entry = exe
	cfg.GracePeriod = time.Second
	cfg.Sink = rec.sink
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, rec
}

func isReady(env protocol.Envelope) bool {
	return env.EventName() == protocol.EventReady
}

func startProcess(t *testing.T, s *Supervisor, rec *sinkRecorder) protocol.Envelope {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	spawned := rec.nextType(t, protocol.TypeAgentSpawned)
	rec.next(t, isReady)
	return spawned
}

func TestProcess_EchoRoundTrip(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	payload, err := s.RequestTool(context.Background(), ToolRequest{
		Tool: "echo",
		Args: map[string]any{"msg": "hi"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"echoed":"hi"}`, string(payload))
}

func TestProcess_KilledWorkerIsRestarted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal names are POSIX-only")
	}
	s, rec := newProcessSupervisor(t, nil)
	spawned := startProcess(t, s, rec)
	pid := int(fieldsOf(t, spawned)["pid"].(float64))

	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	exit := rec.nextType(t, protocol.TypeAgentExit)
	crashedAt := time.Now()
	fields := fieldsOf(t, exit)
	require.Equal(t, true, fields["crashed"])
	require.Nil(t, fields["code"])
	require.Equal(t, "SIGKILL", fields["signal"])
	require.Equal(t, 500.0, fields["restartInMs"])

	respawned := rec.nextType(t, protocol.TypeAgentSpawned)
	require.GreaterOrEqual(t, time.Since(crashedAt), 450*time.Millisecond)
	require.NotEqual(t, float64(pid), fieldsOf(t, respawned)["pid"])
	require.Equal(t, 1, s.RestartCount())

	rec.next(t, isReady)
	_, err = s.RequestTool(context.Background(), ToolRequest{Tool: "echo"})
	require.NoError(t, err)
}

func TestProcess_TimeoutThenLateResultIsDropped(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	start := time.Now()
	_, err := s.RequestTool(context.Background(), ToolRequest{
		Tool:    "sleep",
		Args:    map[string]any{"ms": 500, "value": "late"},
		Timeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 400*time.Millisecond)

	// The late result still reaches the sink and changes nothing.
	rec.next(t, func(env protocol.Envelope) bool {
		return env.Type == protocol.TypeToolResult && strings.Contains(string(env.Payload), "late")
	})

	payload, err := s.RequestTool(context.Background(), ToolRequest{
		Tool: "sleep",
		Args: map[string]any{"ms": 10, "value": "fresh"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"slept":10,"value":"fresh"}`, string(payload))
	require.True(t, s.IsRunning())
}

func TestProcess_ConcurrentRequestsResolveByID(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	delays := map[string]int{"a": 300, "b": 200, "c": 100}
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make(map[string]string)
	var errs []error
	for value, ms := range delays {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := s.RequestTool(context.Background(), ToolRequest{
				Tool: "sleep",
				Args: map[string]any{"ms": ms, "value": value},
			})
			var res struct {
				Value string `json:"value"`
			}
			if err == nil {
				err = json.Unmarshal(payload, &res)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			got[value] = res.Value
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, map[string]string{"a": "a", "b": "b", "c": "c"}, got)
}

func TestProcess_StopRejectsPendingWithoutRestart(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	var results []<-chan requestResult
	for range 3 {
		results = append(results, requestAsync(s, ToolRequest{
			Tool: "sleep",
			Args: map[string]any{"ms": 5000},
		}))
	}
	require.Eventually(t, func() bool { return s.Health().Pending == 3 }, 5*time.Second, 5*time.Millisecond)

	s.Stop()
	for _, ch := range results {
		require.ErrorIs(t, awaitResult(t, ch).err, ErrStopped)
	}

	exit := rec.nextType(t, protocol.TypeAgentExit)
	require.Equal(t, false, fieldsOf(t, exit)["crashed"])

	time.Sleep(700 * time.Millisecond)
	require.Equal(t, 1, rec.count(protocol.TypeAgentSpawned))
	require.Zero(t, s.RestartCount())
	require.Equal(t, StateStopped, s.State())
}

func TestProcess_UnknownToolDoesNotCrashWorker(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	_, err := s.RequestTool(context.Background(), ToolRequest{Tool: "nonexistent.tool"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	require.True(t, toolErr.UnknownTool())

	_, err = s.RequestTool(context.Background(), ToolRequest{Tool: "echo"})
	require.NoError(t, err)
	require.Zero(t, rec.count(protocol.TypeAgentExit))
}

func TestProcess_WorkerExitCodeIsReported(t *testing.T) {
	s, rec := newProcessSupervisor(t, nil)
	startProcess(t, s, rec)

	_, err := s.RequestTool(context.Background(), ToolRequest{Tool: "crash", Timeout: 300 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)

	fields := fieldsOf(t, rec.nextType(t, protocol.TypeAgentExit))
	require.Equal(t, true, fields["crashed"])
	require.Equal(t, 3.0, fields["code"])
	require.Nil(t, fields["signal"])
	require.Equal(t, 1.0, fields["restartCount"])
}

func TestProcess_WorkerEnvironment(t *testing.T) {
	envFile := t.TempDir() + "/worker.env"
	require.NoError(t, os.WriteFile(envFile, []byte("RINAWARP_TEST_FROM_FILE=file\n"), 0o600))

	s, rec := newProcessSupervisor(t, func(c *Config) {
		c.EnvFile = envFile
		c.Env = []string{"RINAWARP_TEST_EXTRA=extra"}
	})
	startProcess(t, s, rec)

	for name, want := range map[string]string{
		"RINAWARP_TEST_FROM_FILE": "file",
		"RINAWARP_TEST_EXTRA":     "extra",
		WorkerMarkerEnv:           "1",
	} {
		payload, err := s.RequestTool(context.Background(), ToolRequest{Tool: "env", Args: map[string]any{"name": name}})
		require.NoError(t, err)
		require.JSONEq(t, `"`+want+`"`, string(payload), name)
	}
}
