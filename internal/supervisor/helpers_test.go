package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/process"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
)

// sinkRecorder collects everything the supervisor forwards to the UI.
type sinkRecorder struct {
	mu   sync.Mutex
	seen []protocol.Envelope
	ch   chan protocol.Envelope
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{ch: make(chan protocol.Envelope, 1024)}
}

func (r *sinkRecorder) sink(env protocol.Envelope) {
	r.mu.Lock()
	r.seen = append(r.seen, env)
	r.mu.Unlock()
	r.ch <- env
}

// next returns the first unread message matching match.
func (r *sinkRecorder) next(t *testing.T, match func(protocol.Envelope) bool) protocol.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-r.ch:
			if match(env) {
				return env
			}
		case <-deadline:
			require.FailNow(t, "timeout waiting for sink message")
			return protocol.Envelope{}
		}
	}
}

func (r *sinkRecorder) nextType(t *testing.T, msgType string) protocol.Envelope {
	t.Helper()
	return r.next(t, func(env protocol.Envelope) bool { return env.Type == msgType })
}

func (r *sinkRecorder) count(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, env := range r.seen {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func fieldsOf(t *testing.T, env protocol.Envelope) map[string]any {
	t.Helper()
	fields, err := env.Fields()
	require.NoError(t, err)
	return fields
}

// counterValue reads one labelled counter from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// fakeHandle is an in-memory worker. Tests drive its output and exit.
type fakeHandle struct {
	pid    int
	msgs   chan protocol.Envelope
	errs   chan error
	exited chan process.ExitStatus
	sent   chan protocol.ToolRun

	mu      sync.Mutex
	status  process.Status
	sendErr error
	once    sync.Once
}

var _ process.Handle = (*fakeHandle)(nil)

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:    pid,
		msgs:   make(chan protocol.Envelope, 64),
		errs:   make(chan error, 4),
		exited: make(chan process.ExitStatus, 1),
		sent:   make(chan protocol.ToolRun, 64),
		status: process.StatusRunning,
	}
}

func (h *fakeHandle) PID() int { return h.pid }
func (h *fakeHandle) Entry() string { return "/usr/local/bin/fake-worker" }
func (h *fakeHandle) Messages() <-chan protocol.Envelope { return h.msgs }
func (h *fakeHandle) Errors() <-chan error { return h.errs }
func (h *fakeHandle) Exited() <-chan process.ExitStatus { return h.exited }

func (h *fakeHandle) Status() process.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) Send(v any) error {
	h.mu.Lock()
	err, status := h.sendErr, h.status
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if status != process.StatusRunning {
		return process.ErrNotRunning
	}
	if run, ok := v.(protocol.ToolRun); ok {
		h.sent <- run
	}
	return nil
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.status = process.StatusTerminating
	h.mu.Unlock()
	go h.exit(process.ExitStatus{Code: 0, Requested: true})
	return nil
}

func (h *fakeHandle) Kill() error {
	return h.Terminate()
}

func (h *fakeHandle) exit(st process.ExitStatus) {
	h.once.Do(func() {
		h.mu.Lock()
		if st.Requested {
			h.status = process.StatusTerminated
		} else {
			h.status = process.StatusExited
		}
		h.mu.Unlock()
		close(h.msgs)
		close(h.errs)
		h.exited <- st
		close(h.exited)
	})
}

// crash ends the worker as if it died on its own.
func (h *fakeHandle) crash(code int) {
	h.exit(process.ExitStatus{Code: code, StderrTail: []string{"fatal: boom"}})
}

// received waits for the next tool:run sent to the worker.
func (h *fakeHandle) received(t *testing.T) protocol.ToolRun {
	t.Helper()
	select {
	case run := <-h.sent:
		return run
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout waiting for tool:run")
		return protocol.ToolRun{}
	}
}

func (h *fakeHandle) reply(t *testing.T, res protocol.ToolResult) {
	t.Helper()
	env, err := protocol.Wrap(res)
	require.NoError(t, err)
	h.msgs <- env
}

type mockSpawner struct {
	mock.Mock
}

func (m *mockSpawner) Spawn(ctx context.Context, spec process.Spec) (process.Handle, error) {
	args := m.Called(ctx, spec)
	h, _ := args.Get(0).(process.Handle)
	return h, args.Error(1)
}

// expectSpawns queues handles to be returned by successive Spawn calls.
func (m *mockSpawner) expectSpawns(handles ...*fakeHandle) {
	for _, h := range handles {
		m.On("Spawn", mock.Anything, mock.Anything).Return(h, nil).Once()
	}
}

func fakeConfig(spawner process.Spawner, rec *sinkRecorder) Config {
	return Config{
		Entry:          "fake-worker",
		RequestTimeout: 2 * time.Second,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
		StableAfter:    time.Hour,
		Spawner:        spawner,
		Sink:           rec.sink,
	}
}

func newFakeSupervisor(t *testing.T, spawner process.Spawner, mutate func(*Config)) (*Supervisor, *sinkRecorder) {
	t.Helper()
	rec := newSinkRecorder()
	cfg := fakeConfig(spawner, rec)
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, rec
}

type requestResult struct {
	payload []byte
	err     error
}

// requestAsync runs RequestTool in the background.
func requestAsync(s *Supervisor, req ToolRequest) <-chan requestResult {
	out := make(chan requestResult, 1)
	go func() {
		payload, err := s.RequestTool(context.Background(), req)
		out <- requestResult{payload: payload, err: err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan requestResult) requestResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout waiting for RequestTool to return")
		return requestResult{}
	}
}
