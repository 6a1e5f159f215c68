package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

// DefaultGracePeriod is how long a terminating worker may take to exit
// before it is killed.
const DefaultGracePeriod = 3 * time.Second

// CommandFactoryFunc builds the exec.Cmd in place of exec.CommandContext,
// letting tests substitute a fake worker.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// SpawnBuilder collects how to launch one worker.
type SpawnBuilder struct {
	ctx            context.Context
	execPath       string
	args           []string
	workDir        string
	env            []string
	grace          time.Duration
	commandFactory CommandFactoryFunc
}

// NewSpawnBuilder starts a builder. The built process lives until ctx is
// cancelled or it is terminated.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:   ctx,
		grace: DefaultGracePeriod,
	}
}

// WithExecutable sets the worker entry and its arguments.
func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the worker's working directory; "" inherits ours.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithEnv appends KEY=VALUE pairs to the host environment. Later
// duplicates win.
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithGracePeriod sets how long Terminate waits before killing the process.
func (b *SpawnBuilder) WithGracePeriod(d time.Duration) *SpawnBuilder {
	b.grace = d
	return b
}

// WithCommandFactory replaces exec.CommandContext.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// ResolveEntry turns an executable name into an absolute path, searching
// PATH for bare names.
func ResolveEntry(path string) (string, error) {
	if filepath.Base(path) == path {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", err
		}
		path = resolved
	}
	return filepath.Abs(path)
}

// Build resolves the entry, starts the process with stdin, stdout and
// stderr piped, and starts its readers. Nothing is left running on error.
func (b *SpawnBuilder) Build() (*Process, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("spawn worker: executable path is required")
	}

	entry, err := ResolveEntry(b.execPath)
	switch {
	case err == nil:
	case b.commandFactory != nil:
		// Fake commands need not exist on disk.
		entry = b.execPath
	default:
		return nil, fmt.Errorf("spawn worker: resolve %s: %w", b.execPath, err)
	}

	procCtx, cancel := context.WithCancel(b.ctx)
	cmd := b.command(procCtx, entry)

	pp, err := openPipes(cmd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("spawn worker: %w", err)
	}

	log.Debug(log.CatSupervisor, "spawning worker", "entry", entry, "args", b.args, "dir", b.workDir)
	if err := cmd.Start(); err != nil {
		pp.close()
		cancel()
		return nil, fmt.Errorf("spawn worker: start %s: %w", entry, err)
	}

	p := newProcess(procCtx, cancel, cmd, entry, pp.stdin, pp.stdout, pp.stderr)
	p.setStatus(StatusRunning)
	p.startGoroutines()
	return p, nil
}

// command builds the exec.Cmd. Cancelling ctx sends the polite
// termination signal; WaitDelay kills the worker if it outlives the grace
// period.
func (b *SpawnBuilder) command(ctx context.Context, entry string) *exec.Cmd {
	var cmd *exec.Cmd
	if b.commandFactory != nil {
		cmd = b.commandFactory(ctx, entry, b.args...)
	} else {
		cmd = exec.CommandContext(ctx, entry, b.args...) // #nosec G204 -- entry comes from config
	}
	cmd.Dir = b.workDir
	cmd.Env = append(os.Environ(), b.env...)
	if cmd.Cancel != nil {
		cmd.Cancel = func() error { return terminate(cmd.Process) }
		cmd.WaitDelay = b.grace
	}
	return cmd
}

type pipes struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func openPipes(cmd *exec.Cmd) (pipes, error) {
	var (
		pp  pipes
		err error
	)
	if pp.stdin, err = cmd.StdinPipe(); err != nil {
		return pp, fmt.Errorf("stdin pipe: %w", err)
	}
	if pp.stdout, err = cmd.StdoutPipe(); err != nil {
		pp.close()
		return pipes{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if pp.stderr, err = cmd.StderrPipe(); err != nil {
		pp.close()
		return pipes{}, fmt.Errorf("stderr pipe: %w", err)
	}
	return pp, nil
}

func (pp pipes) close() {
	for _, c := range []io.Closer{pp.stdin, pp.stdout, pp.stderr} {
		if c != nil {
			_ = c.Close()
		}
	}
}
