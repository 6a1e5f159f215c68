package presentation

import (
	"encoding/json"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
)

// ToolDTO represents a registered tool for presentation
type ToolDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Permission  string `json:"permission,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// FromDescriptors converts tool descriptors, marking tools whose
// permission is disabled.
func FromDescriptors(descs []tools.Descriptor, perms tools.Permissions) []ToolDTO {
	out := make([]ToolDTO, len(descs))
	for i, d := range descs {
		out[i] = ToolDTO{
			Name:        d.Name,
			Description: d.Description,
			Permission:  string(d.Permission),
			Enabled:     perms.Allows(d.Permission),
		}
	}
	return out
}

// CrashDTO represents one recorded worker crash
type CrashDTO struct {
	At             time.Time `json:"at"`
	PID            int       `json:"pid"`
	Entry          string    `json:"entry"`
	Code           *int      `json:"code"`
	Signal         *string   `json:"signal"`
	RestartCount   int       `json:"restartCount"`
	RestartDelayMs int64     `json:"restartDelayMs"`
	StderrTail     []string  `json:"stderrTail,omitempty"`
}

// FromCrashRecords converts crash records. Code is null for signal deaths
// and Signal is null for normal exits.
func FromCrashRecords(recs []supervisor.CrashRecord) []CrashDTO {
	out := make([]CrashDTO, len(recs))
	for i, r := range recs {
		dto := CrashDTO{
			At:             r.At,
			PID:            r.PID,
			Entry:          r.Entry,
			RestartCount:   r.RestartCount,
			RestartDelayMs: r.RestartDelay.Milliseconds(),
			StderrTail:     r.StderrTail,
		}
		if r.Code >= 0 {
			code := r.Code
			dto.Code = &code
		}
		if r.Signal != "" {
			sig := r.Signal
			dto.Signal = &sig
		}
		out[i] = dto
	}
	return out
}

// ResultDTO is the outcome of a one-shot tool call
type ResultDTO struct {
	Tool    string          `json:"tool"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
