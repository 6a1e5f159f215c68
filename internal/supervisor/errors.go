package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/protocol"
)

var (
	// ErrNotRunning is returned by RequestTool when no worker is running.
	ErrNotRunning = errors.New("agent not running")
	// ErrStopped settles requests that were pending when Stop ran.
	ErrStopped = errors.New("agent stopped")
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("tool request timed out")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("supervisor shut down")
)

// TimeoutError reports a request that got no result in time.
type TimeoutError struct {
	Tool      string
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.After)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ToolError carries a worker's ok:false result.
type ToolError struct {
	Tool      string
	RequestID string
	Message   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// UnknownTool reports whether the worker did not recognise the tool.
func (e *ToolError) UnknownTool() bool {
	return e.Message == protocol.ErrUnknownTool
}
