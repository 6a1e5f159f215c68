package supervisor

import (
	"context"
	"time"
)

// Crash counts within the crash window that change the reported health.
const degradedCrashCount = 2

// Health is a point-in-time view of the supervisor.
type Health struct {
	State            string        `json:"state"`
	Running          bool          `json:"running"`
	PID              int           `json:"pid,omitempty"`
	Entry            string        `json:"entry,omitempty"`
	RestartCount     int           `json:"restartCount"`
	LastStart        time.Time     `json:"lastStart,omitempty"`
	Pending          int           `json:"pending"`
	CrashesInWindow  int           `json:"crashesInWindow"`
	RecentlyCrashed  bool          `json:"recentlyCrashed"`
	Degraded         bool          `json:"degraded"`
	NextRestartDelay time.Duration `json:"nextRestartDelay,omitempty"`
}

// Health reports the current lifecycle state, restart bookkeeping and
// how many crashes happened within the crash window.
func (s *Supervisor) Health() Health {
	crashes := s.crashWindow.Count(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()

	h := Health{
		State:           s.lifecycle.Current(),
		Running:         s.isRunningLocked(),
		RestartCount:    s.restartCount,
		LastStart:       s.lastStart,
		Pending:         len(s.pending),
		CrashesInWindow: crashes,
		RecentlyCrashed: crashes > 0,
		Degraded:        crashes > degradedCrashCount,
	}
	if s.worker != nil {
		h.PID = s.worker.handle.PID()
		h.Entry = s.worker.handle.Entry()
	}
	if s.restartTimer != nil {
		h.NextRestartDelay = s.nextDelay
	}
	return h
}
