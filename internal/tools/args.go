package tools

import (
	"encoding/json"
	"fmt"
)

// DecodeArgs converts a tool:run args object into v, a pointer to a
// struct with json tags.
func DecodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}
