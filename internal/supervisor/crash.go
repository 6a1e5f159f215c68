package supervisor

import (
	"context"
	"strconv"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

const crashStoreTimeout = 5 * time.Second

// CrashRecord describes one unexpected worker exit.
type CrashRecord struct {
	At           time.Time
	PID          int
	Entry        string
	Code         int
	Signal       string
	RestartCount int
	RestartDelay time.Duration
	StderrTail   []string
}

// CrashStore persists crash history.
type CrashStore interface {
	RecordCrash(ctx context.Context, rec CrashRecord) error
}

func (s *Supervisor) recordCrash(rec CrashRecord) {
	key := strconv.FormatInt(rec.At.UnixNano(), 10) + "-" + strconv.Itoa(rec.PID)
	s.crashWindow.Set(context.Background(), key, rec, s.cfg.CrashWindow)

	if s.cfg.Crashes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), crashStoreTimeout)
	defer cancel()
	if err := s.cfg.Crashes.RecordCrash(ctx, rec); err != nil {
		log.ErrorErr(log.CatSupervisor, "failed to persist crash record", err, "pid", rec.PID)
	}
}
