// Package process spawns and owns a worker child process: it frames
// outbound messages onto the worker's stdin, decodes inbound messages
// from its stdout, relays stderr into the log, and reports exactly one
// ExitStatus when the process ends.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
)

// ErrNotRunning is returned by Send once the process is terminating or gone.
var ErrNotRunning = errors.New("process not running")

const (
	messageBuffer  = 100
	errorBuffer    = 10
	stderrTailSize = 20

	stderrLineBuffer = 64 * 1024
	maxStderrLine    = 1024 * 1024
)

// Handle is a live worker process as seen by the supervisor.
type Handle interface {
	// PID returns the OS process id, or -1 if unknown.
	PID() int
	// Entry returns the resolved executable path.
	Entry() string
	// Send frames v as one JSON line on the worker's stdin.
	Send(v any) error
	// Messages yields decoded worker messages in order. It is closed when
	// the worker's stdout reaches EOF.
	Messages() <-chan protocol.Envelope
	// Errors yields channel-level errors. It is closed after the process exits.
	Errors() <-chan error
	// Exited receives exactly one ExitStatus, after Messages and Errors are closed.
	Exited() <-chan ExitStatus
	// Terminate requests a graceful exit; the process is killed if it is
	// still alive after the configured grace period.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
	// Status returns the current process status.
	Status() Status
}

// Process is the exec-backed Handle.
type Process struct {
	cmd    *exec.Cmd
	entry  string
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	enc    *protocol.Encoder

	status Status
	mu     sync.RWMutex

	messages chan protocol.Envelope
	errors   chan error
	exited   chan ExitStatus

	stderrTail []string
	readers    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Handle = (*Process)(nil)

func newProcess(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, entry string,
	stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Process {
	return &Process{
		cmd:      cmd,
		entry:    entry,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		enc:      protocol.NewEncoder(stdin),
		status:   StatusPending,
		messages: make(chan protocol.Envelope, messageBuffer),
		errors:   make(chan error, errorBuffer),
		exited:   make(chan ExitStatus, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PID returns the OS process ID, or -1 if not started.
func (p *Process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Entry returns the resolved executable path.
func (p *Process) Entry() string {
	return p.entry
}

// Status returns the current process status. Thread-safe.
func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Process) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// Messages returns the channel of decoded worker messages.
func (p *Process) Messages() <-chan protocol.Envelope {
	return p.messages
}

// Errors returns the channel of channel-level errors.
func (p *Process) Errors() <-chan error {
	return p.errors
}

// Exited returns the channel that receives the exit status.
func (p *Process) Exited() <-chan ExitStatus {
	return p.exited
}

// Send writes one message to the worker's stdin.
func (p *Process) Send(v any) error {
	if p.Status() != StatusRunning {
		return ErrNotRunning
	}
	if err := p.enc.Encode(v); err != nil {
		return fmt.Errorf("send to worker %d: %w", p.PID(), err)
	}
	return nil
}

// Terminate marks the process as terminating before cancelling its
// context, so the exit is reported as requested.
// Terminate is a no-op if the process already exited.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if p.status.IsTerminal() || p.status == StatusTerminating {
		p.mu.Unlock()
		return nil
	}
	p.status = StatusTerminating
	p.mu.Unlock()

	// Closing stdin lets a well-behaved worker exit on EOF.
	_ = p.stdin.Close()
	p.cancel()
	return nil
}

// Kill stops the process immediately.
func (p *Process) Kill() error {
	p.mu.Lock()
	if p.status.IsTerminal() {
		p.mu.Unlock()
		return nil
	}
	p.status = StatusTerminating
	proc := p.cmd.Process
	p.mu.Unlock()

	if proc == nil {
		return ErrNotRunning
	}
	return proc.Kill()
}

// abort kills the process without marking the exit as requested, so the
// supervisor reports it as a crash.
func (p *Process) abort() {
	p.mu.RLock()
	proc := p.cmd.Process
	terminal := p.status.IsTerminal()
	p.mu.RUnlock()
	if proc != nil && !terminal {
		_ = proc.Kill()
	}
}

// StderrTail returns the last lines written to stderr. Thread-safe.
func (p *Process) StderrTail() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.stderrTail))
	copy(out, p.stderrTail)
	return out
}

// sendError delivers err without blocking; a full channel drops it.
func (p *Process) sendError(err error) {
	select {
	case p.errors <- err:
	default:
		log.Debug(log.CatIPC, "error channel full, dropping error", "pid", p.PID(), "error", err)
	}
}

// startGoroutines launches the stdout decoder, the stderr relay and the
// completion waiter. Call this after the process is started.
func (p *Process) startGoroutines() {
	p.readers.Add(2)
	go p.readMessages()
	go p.readStderr()
	go p.waitForCompletion()
}

// readMessages decodes stdout lines into envelopes. Malformed lines are
// logged and skipped; a read error is reported on the errors channel.
func (p *Process) readMessages() {
	defer p.readers.Done()
	defer close(p.messages)

	dec := protocol.NewDecoder(p.stdout)
	for {
		line, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Nothing reads stdout any more, so the worker would block on
			// its next write. Kill it and let the exit be handled as a crash.
			log.Warn(log.CatIPC, "stdout read error, killing worker", "pid", p.PID(), "error", err)
			p.sendError(err)
			p.abort()
			return
		}

		env, err := protocol.Decode(line)
		if err != nil {
			log.Warn(log.CatIPC, "dropping malformed worker message", "pid", p.PID(), "error", err, "line", string(line))
			continue
		}
		p.messages <- env
	}
}

// readStderr relays stderr lines to the log and keeps a short tail for
// exit reports.
func (p *Process) readStderr() {
	defer p.readers.Done()

	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, stderrLineBuffer), maxStderrLine)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(log.CatWorker, "STDERR", "pid", p.PID(), "line", line)

		p.mu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailSize {
			p.stderrTail = p.stderrTail[len(p.stderrTail)-stderrTailSize:]
		}
		p.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		log.Warn(log.CatIPC, "stderr relay stopped, discarding the rest", "pid", p.PID(), "error", err)
		// Keep the pipe drained so the worker never blocks writing stderr.
		_, _ = io.Copy(io.Discard, p.stderr)
	}
}

// waitForCompletion waits for both readers to drain, then reaps the
// process and publishes its exit status.
func (p *Process) waitForCompletion() {
	p.readers.Wait()
	waitErr := p.cmd.Wait()
	p.cancel()

	st := exitStatusFrom(p.cmd, waitErr)

	p.mu.Lock()
	st.Requested = p.status == StatusTerminating
	if st.Requested {
		p.status = StatusTerminated
	} else {
		p.status = StatusExited
	}
	st.StderrTail = append([]string(nil), p.stderrTail...)
	p.mu.Unlock()

	log.Debug(log.CatSupervisor, "worker process exited",
		"pid", p.PID(), "status", st.String(), "requested", st.Requested)

	close(p.errors)
	p.exited <- st
	close(p.exited)
}
