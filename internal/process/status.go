package process

// Status represents the current state of a worker process.
type Status int

const (
	// StatusPending indicates the process has not yet started.
	StatusPending Status = iota
	// StatusRunning indicates the process is running and accepts messages.
	StatusRunning
	// StatusTerminating indicates a termination signal has been requested.
	StatusTerminating
	// StatusExited indicates the process exited on its own.
	StatusExited
	// StatusTerminated indicates the process exited after Terminate or Kill.
	StatusTerminated
)

// String returns a human-readable string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusTerminating:
		return "terminating"
	case StatusExited:
		return "exited"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the process has exited.
func (s Status) IsTerminal() bool {
	return s == StatusExited || s == StatusTerminated
}
