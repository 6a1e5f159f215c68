package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
)

// MemoryEventModel represents a row of the memory_events table.
// Times are stored as Unix milliseconds.
type MemoryEventModel struct {
	ID             int64
	ConversationID string
	Kind           string
	Data           *string // nullable, JSON encoded
	CreatedAt      int64
}

func (m *MemoryEventModel) toDomain() tools.MemoryEvent {
	ev := tools.MemoryEvent{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Kind:           m.Kind,
		CreatedAt:      time.UnixMilli(m.CreatedAt),
	}
	if m.Data != nil {
		ev.Data = json.RawMessage(*m.Data)
	}
	return ev
}

// CrashModel represents a row of the crashes table.
type CrashModel struct {
	ID             int64
	CrashedAt      int64 // Unix milliseconds
	PID            int
	Entry          string
	ExitCode       *int    // nullable, null when killed by a signal
	Signal         *string // nullable
	RestartCount   int
	RestartDelayMs int64
	StderrTail     *string // nullable, JSON encoded
}

func toCrashModel(rec supervisor.CrashRecord) *CrashModel {
	m := &CrashModel{
		CrashedAt:      rec.At.UnixMilli(),
		PID:            rec.PID,
		Entry:          rec.Entry,
		RestartCount:   rec.RestartCount,
		RestartDelayMs: rec.RestartDelay.Milliseconds(),
	}
	if rec.Code >= 0 {
		code := rec.Code
		m.ExitCode = &code
	}
	if rec.Signal != "" {
		sig := rec.Signal
		m.Signal = &sig
	}
	if len(rec.StderrTail) > 0 {
		if data, err := json.Marshal(rec.StderrTail); err == nil {
			s := string(data)
			m.StderrTail = &s
		}
	}
	return m
}

func (m *CrashModel) toDomain() supervisor.CrashRecord {
	rec := supervisor.CrashRecord{
		At:           time.UnixMilli(m.CrashedAt),
		PID:          m.PID,
		Entry:        m.Entry,
		Code:         -1,
		RestartCount: m.RestartCount,
		RestartDelay: time.Duration(m.RestartDelayMs) * time.Millisecond,
	}
	if m.ExitCode != nil {
		rec.Code = *m.ExitCode
	}
	if m.Signal != nil {
		rec.Signal = *m.Signal
	}
	if m.StderrTail != nil {
		_ = json.Unmarshal([]byte(*m.StderrTail), &rec.StderrTail)
	}
	return rec
}

// nullableJSON stores empty raw JSON as NULL.
func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
