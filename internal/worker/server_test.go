package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
)

type harness struct {
	t      *testing.T
	in     *io.PipeWriter
	enc    *protocol.Encoder
	out    chan protocol.Envelope
	served chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := &harness{
		t:      t,
		in:     inW,
		enc:    protocol.NewEncoder(inW),
		out:    make(chan protocol.Envelope, 32),
		served: make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outR.Close()
	})

	go func() {
		h.served <- NewServer(cfg).Serve(ctx, inR, outW)
		_ = outW.Close()
	}()
	go func() {
		defer close(h.out)
		dec := protocol.NewDecoder(outR)
		for {
			line, err := dec.Next()
			if err != nil {
				return
			}
			env, err := protocol.Decode(line)
			if err != nil {
				continue
			}
			h.out <- env
		}
	}()

	ready := h.next()
	require.Equal(t, protocol.EventReady, ready.EventName())
	return h
}

func (h *harness) send(v any) {
	h.t.Helper()
	require.NoError(h.t, h.enc.Encode(v))
}

func (h *harness) next() protocol.Envelope {
	h.t.Helper()
	select {
	case env, ok := <-h.out:
		require.True(h.t, ok, "worker output closed")
		return env
	case <-time.After(5 * time.Second):
		require.FailNow(h.t, "timeout waiting for worker output")
		return protocol.Envelope{}
	}
}

func (h *harness) run(id, tool string, args map[string]any) protocol.Envelope {
	h.t.Helper()
	h.send(protocol.NewToolRun(id, tool, args, ""))
	return h.next()
}

func registry(extra ...tools.Tool) *tools.Registry {
	r := tools.NewRegistry()
	r.MustRegister(tools.Echo(), tools.Sleep())
	r.MustRegister(extra...)
	return r
}

func TestServe_AnnouncesReadyWithTools(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	defer inW.Close()

	go func() { _ = NewServer(Config{Registry: registry()}).Serve(context.Background(), inR, outW) }()

	line, err := protocol.NewDecoder(outR).Next()
	require.NoError(t, err)
	var ready map[string]any
	require.NoError(t, json.Unmarshal(line, &ready))
	require.Equal(t, "event", ready["type"])
	require.Equal(t, "agent:ready", ready["event"])
	require.Equal(t, []any{"echo", "sleep"}, ready["tools"])
	require.NotZero(t, ready["pid"])
}

func TestServe_Echo(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	res := h.run("r-1", "echo", map[string]any{"msg": "hi"})
	require.Equal(t, protocol.TypeToolResult, res.Type)
	require.Equal(t, "r-1", res.RequestID)
	require.True(t, res.OK)
	require.JSONEq(t, `{"echoed":"hi"}`, string(res.Payload))
}

func TestServe_UnknownTool(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	res := h.run("r-1", "nonexistent.tool", nil)
	require.False(t, res.OK)
	require.Equal(t, "unknown tool", res.Error)
	require.JSONEq(t, `{"type":"tool:result","requestId":"r-1","ok":false,"error":"unknown tool"}`, string(res.Raw))

	// Still serving.
	require.True(t, h.run("r-2", "echo", nil).OK)
}

func TestServe_HandlerErrorBecomesFailure(t *testing.T) {
	h := newHarness(t, Config{Registry: registry(tools.Tool{
		Name: "fail",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			return nil, errors.New("disk full")
		},
	})})

	res := h.run("r-1", "fail", nil)
	require.False(t, res.OK)
	require.Equal(t, "disk full", res.Error)
}

func TestServe_PanicBecomesFailure(t *testing.T) {
	h := newHarness(t, Config{Registry: registry(tools.Tool{
		Name: "explode",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			panic("boom")
		},
	})})

	res := h.run("r-1", "explode", nil)
	require.False(t, res.OK)
	require.Equal(t, "tool panicked: boom", res.Error)
}

func TestServe_UnencodablePayloadBecomesFailure(t *testing.T) {
	h := newHarness(t, Config{Registry: registry(tools.Tool{
		Name: "chan",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			return make(chan int), nil
		},
	})})

	res := h.run("r-1", "chan", nil)
	require.Equal(t, "r-1", res.RequestID)
	require.False(t, res.OK)
	require.Contains(t, res.Error, "encode message")
}

func TestServe_PermissionDenied(t *testing.T) {
	h := newHarness(t, Config{
		Registry:    registry(tools.ShellRun("", 0)),
		Permissions: tools.Permissions{tools.PermShell: false},
	})

	res := h.run("r-1", "shell.run", map[string]any{"command": "echo hi"})
	require.False(t, res.OK)
	require.Equal(t, "permission denied: shell", res.Error)
}

func TestServe_AppliesDefaults(t *testing.T) {
	var got tools.Call
	h := newHarness(t, Config{Registry: registry(tools.Tool{
		Name: "inspect",
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			got = call
			return nil, nil
		},
	})})

	// A hand-written message without args or conversationId.
	h.send(map[string]any{"type": "tool:run", "requestId": "r-1", "tool": "inspect"})
	res := h.next()
	require.True(t, res.OK)
	require.Equal(t, "default", got.ConversationID)
	require.NotNil(t, got.Args)
	require.Empty(t, got.Args)
}

func TestServe_UnknownMessageTypeWarns(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	h.send(map[string]any{"type": "tool:cancel", "requestId": "r-1"})
	warn := h.next()
	require.Equal(t, protocol.EventWarn, warn.EventName())
	fields, err := warn.Fields()
	require.NoError(t, err)
	require.Equal(t, "unknown message type", fields["message"])
	require.Equal(t, "tool:cancel", fields["received"])
}

func TestServe_SkipsMalformedLines(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	_, err := h.in.Write([]byte("this is not json\n{\"no\":\"type\"}\n"))
	require.NoError(t, err)

	res := h.run("r-1", "echo", map[string]any{"msg": "after"})
	require.Equal(t, "r-1", res.RequestID)
	require.True(t, res.OK)
}

func TestServe_ResultsMayArriveOutOfOrder(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	h.send(protocol.NewToolRun("slow", "sleep", map[string]any{"ms": 200, "value": "slow"}, ""))
	h.send(protocol.NewToolRun("fast", "echo", map[string]any{"msg": "fast"}, ""))

	require.Equal(t, "fast", h.next().RequestID)
	require.Equal(t, "slow", h.next().RequestID)
}

func TestServe_EOFWaitsForInflight(t *testing.T) {
	h := newHarness(t, Config{Registry: registry()})

	h.send(protocol.NewToolRun("r-1", "sleep", map[string]any{"ms": 50}, ""))
	require.NoError(t, h.in.Close())

	res := h.next()
	require.Equal(t, "r-1", res.RequestID)
	require.True(t, res.OK)

	select {
	case err := <-h.served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Serve did not return after EOF")
	}
}
