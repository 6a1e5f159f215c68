// Package presentation renders command output as indented JSON.
package presentation

import (
	"encoding/json"
	"io"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatTools formats a list of tools as JSON
func (f *Formatter) FormatTools(tools []ToolDTO) error {
	return f.encode(tools)
}

// FormatCrashes formats crash history as JSON
func (f *Formatter) FormatCrashes(crashes []CrashDTO) error {
	return f.encode(crashes)
}

// FormatResult formats a tool call result as JSON
func (f *Formatter) FormatResult(result ResultDTO) error {
	return f.encode(result)
}

// FormatHealth formats a supervisor health snapshot as JSON
func (f *Formatter) FormatHealth(h supervisor.Health) error {
	return f.encode(h)
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
