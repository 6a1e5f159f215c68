package process

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExitStatus describes how a worker process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int
	// Signal names the terminating signal, empty when the process exited normally.
	Signal string
	// Requested is true when the exit followed Terminate or Kill.
	Requested bool
	// StderrTail holds the last lines the process wrote to stderr.
	StderrTail []string
	// Err is the error returned by Wait, if any.
	Err error
}

// Clean reports whether the process exited with code 0 and no signal.
func (e ExitStatus) Clean() bool {
	return e.Code == 0 && e.Signal == ""
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("signal %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Error formats the exit with its stderr tail, for logs and agent:exit events.
func (e ExitStatus) Error() string {
	if len(e.StderrTail) == 0 {
		return e.String()
	}
	return fmt.Sprintf("%s: %s", e.String(), strings.Join(e.StderrTail, "\n"))
}

// exitStatusFrom converts the result of Wait into an ExitStatus.
func exitStatusFrom(cmd *exec.Cmd, waitErr error) ExitStatus {
	st := ExitStatus{Code: -1, Err: waitErr}
	if cmd.ProcessState != nil {
		st.Code = cmd.ProcessState.ExitCode()
		st.Signal = signalName(cmd.ProcessState)
	}
	return st
}
