// Package worker is the worker side of the protocol. It reads tool:run
// messages from the supervisor, runs the named tool from a registry, and
// writes exactly one tool:result per tool:run. Tools run concurrently, so
// results may be written in any order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
)

// Config configures a Server.
type Config struct {
	Registry *tools.Registry
	// Permissions gates tools by permission class. Nil allows everything.
	Permissions tools.Permissions
	// Tracer is optional.
	Tracer trace.Tracer
}

// Server handles one supervisor connection.
type Server struct {
	registry *tools.Registry
	perms    tools.Permissions
	tracer   trace.Tracer

	enc      *protocol.Encoder
	inflight sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	perms := cfg.Permissions
	if perms == nil {
		perms = tools.AllPermissions()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Server{registry: registry, perms: perms, tracer: tracer}
}

// Serve announces readiness on w, then handles messages from r until r
// reaches EOF or ctx is cancelled. It waits for in-flight tools to write
// their results before returning. Cancelling ctx cancels running tools.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.enc = protocol.NewEncoder(w)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.enc.Encode(protocol.WorkerEvent(protocol.EventReady, map[string]any{
		"pid":   os.Getpid(),
		"tools": s.registry.Names(),
	})); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}
	log.Info(log.CatWorker, "worker ready", "pid", os.Getpid(), "tools", len(s.registry.Names()))

	msgs := make(chan protocol.Envelope)
	readErr := make(chan error, 1)
	go s.read(ctx, r, msgs, readErr)

	var err error
loop:
	for {
		select {
		case env, ok := <-msgs:
			if !ok {
				err = <-readErr
				break loop
			}
			s.handle(ctx, env)
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		}
	}

	s.inflight.Wait()
	if errors.Is(err, io.EOF) {
		log.Info(log.CatWorker, "input closed, worker exiting")
		return nil
	}
	return err
}

// read decodes messages from r. Malformed lines are logged and skipped.
func (s *Server) read(ctx context.Context, r io.Reader, out chan<- protocol.Envelope, readErr chan<- error) {
	defer close(out)

	dec := protocol.NewDecoder(r)
	for {
		line, err := dec.Next()
		if err != nil {
			readErr <- err
			return
		}
		env, err := protocol.Decode(line)
		if err != nil {
			log.Warn(log.CatIPC, "skipping malformed message", "error", err)
			continue
		}
		select {
		case out <- env:
		case <-ctx.Done():
			readErr <- ctx.Err()
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeToolRun:
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.reply(env.RequestID, s.run(ctx, env))
		}()
	default:
		log.Warn(log.CatWorker, "unknown message type", "type", env.Type)
		s.send(protocol.WorkerEvent(protocol.EventWarn, map[string]any{
			"message":  "unknown message type",
			"received": env.Type,
		}))
	}
}

// run executes one tool. A panicking handler still yields a result.
func (s *Server) run(ctx context.Context, env protocol.Envelope) (res protocol.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatTool, "tool panicked", "tool", env.Tool, "requestId", env.RequestID, "panic", r)
			res = protocol.Failure(env.RequestID, fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	tool, ok := s.registry.Lookup(env.Tool)
	if !ok {
		log.Warn(log.CatTool, "unknown tool", "tool", env.Tool, "requestId", env.RequestID)
		return protocol.Failure(env.RequestID, protocol.ErrUnknownTool)
	}
	if !s.perms.Allows(tool.Permission) {
		denied := &tools.DeniedError{Permission: tool.Permission}
		log.Warn(log.CatTool, "tool denied", "tool", env.Tool, "permission", tool.Permission)
		return protocol.Failure(env.RequestID, denied.Error())
	}

	conversationID := env.ConversationID
	if conversationID == "" {
		conversationID = protocol.DefaultConversationID
	}
	args := env.Args
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := tracing.StartToolSpan(ctx, s.tracer, tracing.SpanPrefixTool+env.Tool, env.Tool, env.RequestID, conversationID)
	log.Debug(log.CatTool, "running tool", "tool", env.Tool, "requestId", env.RequestID, "conversationId", conversationID)

	payload, err := tool.Handler(ctx, tools.Call{
		RequestID:      env.RequestID,
		ConversationID: conversationID,
		Args:           args,
	})
	if err != nil {
		tracing.EndSpan(span, "tool_error", err)
		log.Debug(log.CatTool, "tool failed", "tool", env.Tool, "requestId", env.RequestID, "error", err)
		return protocol.Failure(env.RequestID, err.Error())
	}
	tracing.EndSpan(span, "ok", nil)
	return protocol.Success(env.RequestID, payload)
}

// reply writes res. If the payload cannot be encoded the request still
// gets an ok:false result.
func (s *Server) reply(requestID string, res protocol.ToolResult) {
	if err := s.enc.Encode(res); err != nil {
		log.ErrorErr(log.CatIPC, "failed to write result", err, "requestId", requestID)
		s.send(protocol.Failure(requestID, err.Error()))
	}
}

func (s *Server) send(v any) {
	if err := s.enc.Encode(v); err != nil {
		log.ErrorErr(log.CatIPC, "failed to write message", err)
	}
}
