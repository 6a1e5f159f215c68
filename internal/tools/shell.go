package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultShell runs shell.run commands when Deps.Shell is empty.
const DefaultShell = "/bin/sh"

// DefaultCommandTimeout bounds commands when no timeout is configured.
const DefaultCommandTimeout = 30 * time.Second

// maxOutput caps captured stdout/stderr so results stay well under the
// message size limit.
const maxOutput = 256 * 1024

type shellArgs struct {
	Command   string `json:"command"`
	Dir       string `json:"dir"`
	TimeoutMs int    `json:"timeoutMs"`
}

// CommandResult is the payload of shell.run.
type CommandResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ShellRun executes args.command with shell -c. A non-zero exit is a
// successful call with the exit code in the payload; failing to start or
// timing out is an error.
func ShellRun(shell string, timeout time.Duration) Tool {
	if shell == "" {
		shell = DefaultShell
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return Tool{
		Name:        "shell.run",
		Description: "Run a shell command and return stdout, stderr and exit code",
		Permission:  PermShell,
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args shellArgs
			if err := DecodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			if strings.TrimSpace(args.Command) == "" {
				return nil, fmt.Errorf("command is required")
			}
			limit := timeout
			if args.TimeoutMs > 0 {
				limit = time.Duration(args.TimeoutMs) * time.Millisecond
			}
			return runCommand(ctx, limit, args.Dir, shell, "-c", args.Command)
		},
	}
}

func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: running commands is this tool's purpose; gated by the shell permission
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	stdout := &cappedBuffer{limit: maxOutput}
	stderr := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CommandResult{}, fmt.Errorf("command timed out after %s", timeout)
	}

	res := CommandResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return CommandResult{}, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest. Writes always succeed so the command is never cut off by a short
// write.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); len(p) > room {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// String returns the kept output. When it was cut, a rune split by the
// cut is dropped.
func (c *cappedBuffer) String() string {
	b := c.buf.Bytes()
	if c.truncated {
		b = trimPartialRune(b)
	}
	return string(b)
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
