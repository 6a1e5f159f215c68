// Package supervisor owns the agent worker process. It spawns the worker,
// correlates tool:run requests with their tool:result replies, times
// requests out, restarts the worker with exponential backoff after a
// crash, and forwards every worker message plus synthetic agent:* events
// to the UI sink.
//
// All mutable state is guarded by one mutex. Timer callbacks and the
// per-worker pump goroutine re-acquire it and re-check ownership before
// acting, so every pending request is settled exactly once.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/cachemanager"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/metrics"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/process"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/pubsub"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tracing"
)

// ToolRequest describes one RequestTool call.
type ToolRequest struct {
	Tool string
	// Args defaults to an empty object.
	Args map[string]any
	// ConversationID defaults to "default".
	ConversationID string
	// Timeout defaults to Config.RequestTimeout.
	Timeout time.Duration
}

// workerRef is one spawned worker. intentional is set by Stop so the
// pump reports the exit as requested rather than as a crash.
type workerRef struct {
	handle      process.Handle
	generation  uint64
	intentional bool
}

// Supervisor manages a single worker process.
type Supervisor struct {
	cfg    Config
	tracer trace.Tracer
	broker *pubsub.Broker[protocol.Envelope]

	mu           sync.Mutex
	lifecycle    *fsm.FSM
	worker       *workerRef
	generation   uint64
	pending      pendingTable
	restartCount int
	lastStart    time.Time
	closed       bool

	// epoch changes on every Start and Stop; a scheduled restart only
	// proceeds if the epoch it captured is still current.
	epoch        uint64
	restartTimer *time.Timer
	stableTimer  *time.Timer
	schedule     *restartSchedule
	nextDelay    time.Duration

	lateResults *cachemanager.InMemoryCacheManager[string, string]
	crashWindow *cachemanager.InMemoryCacheManager[string, CrashRecord]

	pumps sync.WaitGroup
}

// New creates a stopped Supervisor.
func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("supervisor")
	}

	s := &Supervisor{
		cfg:       cfg,
		tracer:    tracer,
		broker:    pubsub.NewBroker[protocol.Envelope](),
		lifecycle: newLifecycle(),
		pending:   make(pendingTable),
		schedule:  newRestartSchedule(cfg.InitialBackoff, cfg.MaxBackoff),
		lateResults: cachemanager.NewInMemoryCacheManager[string, string](
			"late-results", cfg.LateResultTTL, cachemanager.DefaultCleanupInterval),
		crashWindow: cachemanager.NewInMemoryCacheManager[string, CrashRecord](
			"crash-window", cfg.CrashWindow, cachemanager.DefaultCleanupInterval),
	}
	if cfg.Metrics != nil {
		cfg.Metrics.RegisterSinkDrops(s.broker.Dropped)
	}
	return s
}

// Subscribe streams everything the sink receives until ctx is cancelled.
// Slow subscribers miss messages rather than blocking the supervisor.
func (s *Supervisor) Subscribe(ctx context.Context) <-chan pubsub.Event[protocol.Envelope] {
	return s.broker.Subscribe(ctx)
}

// Start spawns the worker. It is a no-op while starting or running and
// does not wait for the worker to become ready.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.start(ctx, nil)
}

// start spawns a worker. When epoch is non-nil the spawn only proceeds if
// no Start or Stop happened since it was captured.
func (s *Supervisor) start(ctx context.Context, epoch *uint64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	if epoch != nil && *epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	if s.lifecycle.Is(StateStarting) || s.lifecycle.Is(StateRunning) {
		s.mu.Unlock()
		return nil
	}

	s.epoch++
	s.cancelRestartLocked()
	s.fire(eventStart)
	s.lastStart = time.Now()

	spec, err := s.spawnSpec()
	var handle process.Handle
	if err == nil {
		// The worker outlives the caller's context.
		handle, err = s.cfg.Spawner.Spawn(context.WithoutCancel(ctx), spec)
	}
	if err != nil {
		s.fire(eventSpawnFailed)
		s.mu.Unlock()

		s.cfg.Metrics.SpawnFailed()
		log.ErrorErr(log.CatSupervisor, "failed to spawn worker", err, "entry", spec.Entry)
		s.emit(pubsub.Lifecycle, errorEvent(err))
		return fmt.Errorf("spawn worker: %w", err)
	}

	s.generation++
	ref := &workerRef{handle: handle, generation: s.generation}
	s.worker = ref
	s.fire(eventSpawned)
	s.armStabilityLocked(ref)
	restarts := s.restartCount
	s.pumps.Add(1)
	s.mu.Unlock()

	s.cfg.Metrics.WorkerSpawned()
	log.Info(log.CatSupervisor, "worker spawned",
		"pid", handle.PID(), "entry", handle.Entry(), "restartCount", restarts)
	s.emit(pubsub.Lifecycle, spawnedEvent(handle.PID(), handle.Entry(), restarts))

	go s.pump(ref)
	return nil
}

// spawnSpec builds the launch description: host environment, optional
// env file, configured extras, and the worker marker last so it cannot
// be overridden.
func (s *Supervisor) spawnSpec() (process.Spec, error) {
	entry := s.cfg.Entry
	if entry == "" {
		exe, err := os.Executable()
		if err != nil {
			return process.Spec{}, fmt.Errorf("resolve own executable: %w", err)
		}
		entry = exe
	}

	var env []string
	if s.cfg.EnvFile != "" {
		vars, err := godotenv.Read(s.cfg.EnvFile)
		if err != nil {
			return process.Spec{Entry: entry}, fmt.Errorf("read env file %s: %w", s.cfg.EnvFile, err)
		}
		for _, k := range slices.Sorted(maps.Keys(vars)) {
			env = append(env, k+"="+vars[k])
		}
	}
	env = append(env, s.cfg.Env...)
	env = append(env, WorkerMarkerEnv+"=1")

	return process.Spec{
		Entry: entry,
		Args:  s.cfg.Args,
		Env:   env,
		Dir:   s.cfg.Dir,
		Grace: s.cfg.GracePeriod,
	}, nil
}

// Stop rejects every pending request with ErrStopped, signals the worker
// and settles at stopped. Pending requests are rejected before the signal
// is sent. The resulting exit never triggers a restart. Stop is idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.epoch++
	s.cancelRestartLocked()
	s.stopStabilityLocked()

	drained := s.pending.drain()
	ref := s.worker
	if ref == nil && len(drained) == 0 && s.lifecycle.Is(StateStopped) {
		s.mu.Unlock()
		return
	}

	s.fire(eventStop)
	for _, p := range drained {
		p.settle(outcome{err: ErrStopped})
	}
	s.worker = nil

	var termErr error
	if ref != nil {
		ref.intentional = true
		termErr = ref.handle.Terminate()
	}
	s.fire(eventStopped)
	s.mu.Unlock()

	s.cfg.Metrics.SetPending(0)
	s.cfg.Metrics.WorkerDown()
	if termErr != nil {
		log.Debug(log.CatSupervisor, "terminate failed", "error", termErr)
	}
	log.Info(log.CatSupervisor, "supervisor stopped", "rejected", len(drained))
}

// Restart stops the current worker and starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Shutdown stops the worker, waits for its exit to be reported, and
// closes every subscription. Start fails afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.broker.Close()
	return err
}

// IsRunning reports whether a live worker is held.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunningLocked()
}

func (s *Supervisor) isRunningLocked() bool {
	return s.worker != nil && s.lifecycle.Is(StateRunning)
}

// State returns the lifecycle state.
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.Current()
}

// RestartCount returns the number of consecutive crashes.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// RequestTool sends a tool:run to the worker and waits for its result.
//
// It returns the result payload on ok:true, a *ToolError on ok:false, a
// *TimeoutError (errors.Is ErrTimeout) when no result arrives in time,
// ErrStopped if Stop runs first, and ErrNotRunning immediately when no
// worker is running. Cancelling ctx abandons the request.
func (s *Supervisor) RequestTool(ctx context.Context, req ToolRequest) (json.RawMessage, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	msg := protocol.NewToolRun(protocol.NewRequestID(), req.Tool, req.Args, req.ConversationID)

	ctx, span := tracing.StartToolSpan(ctx, s.tracer, tracing.SpanRequestTool, msg.Tool, msg.RequestID, msg.ConversationID)
	started := time.Now()

	payload, result, err := s.requestTool(ctx, msg, timeout, span)

	s.cfg.Metrics.ObserveRequest(msg.Tool, result, time.Since(started))
	tracing.EndSpan(span, result, err)
	return payload, err
}

func (s *Supervisor) requestTool(ctx context.Context, msg protocol.ToolRun, timeout time.Duration, span trace.Span) (json.RawMessage, string, error) {
	s.mu.Lock()
	if s.closed || !s.isRunningLocked() {
		s.mu.Unlock()
		return nil, metrics.OutcomeNotRunning, ErrNotRunning
	}
	handle := s.worker.handle
	p := newPendingRequest(msg.RequestID, msg.Tool)
	p.timer = time.AfterFunc(timeout, func() { s.expire(msg.RequestID, timeout) })
	s.pending[msg.RequestID] = p
	n := len(s.pending)
	s.mu.Unlock()
	s.cfg.Metrics.SetPending(n)

	if err := handle.Send(msg); err != nil {
		if s.abandon(msg.RequestID) {
			log.Warn(log.CatSupervisor, "failed to send tool request",
				"tool", msg.Tool, "requestId", msg.RequestID, "error", err)
			return nil, metrics.OutcomeSendError, fmt.Errorf("send tool:run: %w", err)
		}
		// Already settled by a timeout or Stop.
	} else {
		span.AddEvent(tracing.EventRequestSent)
	}

	select {
	case o := <-p.done:
		return o.payload, outcomeLabel(o.err), o.err
	case <-ctx.Done():
		if s.abandon(msg.RequestID) {
			s.lateResults.Set(context.Background(), msg.RequestID, msg.Tool, s.cfg.LateResultTTL)
			return nil, metrics.OutcomeCancelled, ctx.Err()
		}
		o := <-p.done
		return o.payload, outcomeLabel(o.err), o.err
	}
}

// abandon removes a request the caller gives up on. It returns false if
// someone else already took it.
func (s *Supervisor) abandon(id string) bool {
	s.mu.Lock()
	_, ok := s.pending.take(id)
	n := len(s.pending)
	s.mu.Unlock()
	if ok {
		s.cfg.Metrics.SetPending(n)
	}
	return ok
}

// expire fires when a request's timer runs out.
func (s *Supervisor) expire(id string, after time.Duration) {
	s.mu.Lock()
	p, ok := s.pending.take(id)
	n := len(s.pending)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.cfg.Metrics.SetPending(n)

	s.lateResults.Set(context.Background(), id, p.tool, s.cfg.LateResultTTL)
	log.Warn(log.CatSupervisor, "tool request timed out", "tool", p.tool, "requestId", id, "after", after)
	p.settle(outcome{err: &TimeoutError{Tool: p.tool, RequestID: id, After: after}})
}

func outcomeLabel(err error) string {
	var toolErr *ToolError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrStopped):
		return metrics.OutcomeStopped
	case errors.As(err, &toolErr):
		return metrics.OutcomeToolError
	default:
		return metrics.OutcomeSendError
	}
}

// pump drains one worker's channels in order, then handles its exit.
func (s *Supervisor) pump(ref *workerRef) {
	defer s.pumps.Done()

	h := ref.handle
	msgs, errs := h.Messages(), h.Errors()
	for msgs != nil || errs != nil {
		select {
		case env, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.dispatch(env)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.ErrorErr(log.CatSupervisor, "worker channel error", err, "pid", h.PID())
			s.emit(pubsub.Lifecycle, errorEvent(err))
		}
	}

	s.handleExit(ref, <-h.Exited())
}

// dispatch settles a matching pending request, then forwards the message
// to the sink whether or not it matched.
func (s *Supervisor) dispatch(env protocol.Envelope) {
	if env.IsResult() {
		s.mu.Lock()
		p, ok := s.pending.take(env.RequestID)
		n := len(s.pending)
		s.mu.Unlock()

		if ok {
			s.cfg.Metrics.SetPending(n)
			if env.OK {
				p.settle(outcome{payload: env.Payload})
			} else {
				p.settle(outcome{err: &ToolError{Tool: p.tool, RequestID: p.id, Message: env.Error}})
			}
		} else {
			s.dropUnmatched(env)
		}
	}

	s.emit(pubsub.WorkerMessage, env)
}

func (s *Supervisor) dropUnmatched(env protocol.Envelope) {
	if tool, late := s.lateResults.Get(context.Background(), env.RequestID); late {
		s.cfg.Metrics.UnmatchedResult(metrics.UnmatchedLate)
		log.Debug(log.CatSupervisor, "dropping late result", "tool", tool, "requestId", env.RequestID)
		return
	}
	s.cfg.Metrics.UnmatchedResult(metrics.UnmatchedUnknown)
	log.Warn(log.CatSupervisor, "dropping result for unknown request", "requestId", env.RequestID)
}

// handleExit reports a worker exit. An exit Stop asked for is reported
// as crashed:false; any other exit of the current worker is a crash and
// schedules a restart.
func (s *Supervisor) handleExit(ref *workerRef, st process.ExitStatus) {
	s.mu.Lock()
	if ref.intentional {
		s.mu.Unlock()
		log.Info(log.CatSupervisor, "worker exited after stop", "pid", ref.handle.PID(), "status", st.String())
		s.emit(pubsub.Lifecycle, exitEvent(st, false, nil))
		return
	}
	if s.worker != ref {
		s.mu.Unlock()
		log.Debug(log.CatSupervisor, "ignoring exit of replaced worker", "pid", ref.handle.PID())
		return
	}

	s.worker = nil
	s.stopStabilityLocked()
	s.fire(eventCrash)
	s.restartCount++
	delay := s.schedule.Next()
	s.nextDelay = delay
	restarts := s.restartCount
	epoch := s.epoch
	s.mu.Unlock()

	s.cfg.Metrics.WorkerCrashed(delay)
	log.Warn(log.CatSupervisor, "worker crashed",
		"pid", ref.handle.PID(), "status", st.String(), "restartCount", restarts, "restartIn", delay)
	s.emit(pubsub.Lifecycle, exitEvent(st, true, map[string]any{
		"restartCount": restarts,
		"restartInMs":  delay.Milliseconds(),
	}))

	s.recordCrash(CrashRecord{
		At:           time.Now(),
		PID:          ref.handle.PID(),
		Entry:        ref.handle.Entry(),
		Code:         st.Code,
		Signal:       st.Signal,
		RestartCount: restarts,
		RestartDelay: delay,
		StderrTail:   st.StderrTail,
	})

	s.mu.Lock()
	if s.epoch == epoch && !s.closed {
		s.restartTimer = time.AfterFunc(delay, func() { s.restartAfterCrash(epoch) })
	}
	s.mu.Unlock()
}

// restartAfterCrash runs when the backoff delay elapses.
func (s *Supervisor) restartAfterCrash(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.worker != nil || s.lifecycle.Is(StateStopping) || s.closed {
		s.mu.Unlock()
		log.Debug(log.CatSupervisor, "skipping scheduled restart")
		return
	}
	s.restartTimer = nil
	s.mu.Unlock()

	s.cfg.Metrics.RestartAttempted()
	if err := s.start(context.Background(), &epoch); err != nil {
		log.ErrorErr(log.CatSupervisor, "scheduled restart failed", err)
	}
}

// armStabilityLocked resets the restart bookkeeping once ref has stayed
// up for StableAfter.
func (s *Supervisor) armStabilityLocked(ref *workerRef) {
	s.stopStabilityLocked()
	if s.cfg.StableAfter <= 0 {
		s.resetRestartsLocked()
		return
	}
	gen := ref.generation
	s.stableTimer = time.AfterFunc(s.cfg.StableAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.worker == nil || s.worker.generation != gen {
			return
		}
		if s.restartCount > 0 {
			log.Info(log.CatSupervisor, "worker stable, resetting restart count", "restartCount", s.restartCount)
		}
		s.resetRestartsLocked()
	})
}

func (s *Supervisor) stopStabilityLocked() {
	if s.stableTimer != nil {
		s.stableTimer.Stop()
		s.stableTimer = nil
	}
}

func (s *Supervisor) resetRestartsLocked() {
	s.restartCount = 0
	s.schedule.Reset()
	s.nextDelay = 0
}

func (s *Supervisor) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// emit forwards a message to subscribers and the sink.
func (s *Supervisor) emit(eventType pubsub.EventType, msg any) {
	env, ok := msg.(protocol.Envelope)
	if !ok {
		var err error
		env, err = protocol.Wrap(msg)
		if err != nil {
			log.ErrorErr(log.CatSupervisor, "failed to encode event", err)
			return
		}
	}
	s.broker.Publish(eventType, env)
	if s.cfg.Sink != nil {
		s.cfg.Sink(env)
	}
}
