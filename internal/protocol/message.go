// Package protocol defines the messages exchanged between the supervisor
// and its worker process, and the newline-delimited JSON framing that
// carries them over the worker's stdin/stdout.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types on the wire.
const (
	TypeToolRun    = "tool:run"
	TypeToolResult = "tool:result"
	TypeEvent      = "event"
)

// Synthetic message types published by the supervisor to the UI sink.
// They never cross the process boundary.
const (
	TypeAgentSpawned = "agent:spawned"
	TypeAgentExit    = "agent:exit"
	TypeAgentError   = "agent:error"
)

// Names carried in the "event" field of worker events.
const (
	EventReady = "agent:ready"
	EventWarn  = "agent:warn"
)

// DefaultConversationID is used when a request does not name a conversation.
const DefaultConversationID = "default"

// ErrUnknownTool is the error text a worker returns for an unregistered tool.
const ErrUnknownTool = "unknown tool"

// ToolRun asks the worker to execute a tool.
type ToolRun struct {
	Type           string         `json:"type"`
	RequestID      string         `json:"requestId"`
	Tool           string         `json:"tool"`
	Args           map[string]any `json:"args"`
	ConversationID string         `json:"conversationId"`
}

// NewToolRun builds a tool:run message, applying the args and
// conversation defaults.
func NewToolRun(requestID, tool string, args map[string]any, conversationID string) ToolRun {
	if args == nil {
		args = map[string]any{}
	}
	if conversationID == "" {
		conversationID = DefaultConversationID
	}
	return ToolRun{
		Type:           TypeToolRun,
		RequestID:      requestID,
		Tool:           tool,
		Args:           args,
		ConversationID: conversationID,
	}
}

// ToolResult is the worker's single reply to a ToolRun.
type ToolResult struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Success builds an ok:true result.
func Success(requestID string, payload any) ToolResult {
	return ToolResult{Type: TypeToolResult, RequestID: requestID, OK: true, Payload: payload}
}

// Failure builds an ok:false result.
func Failure(requestID, message string) ToolResult {
	return ToolResult{Type: TypeToolResult, RequestID: requestID, OK: false, Error: message}
}

// Event is a freeform message. The "type" key is always set by NewEvent.
type Event map[string]any

// NewEvent builds a message of the given type with the supplied fields.
func NewEvent(msgType string, fields map[string]any) Event {
	e := make(Event, len(fields)+1)
	for k, v := range fields {
		e[k] = v
	}
	e["type"] = msgType
	return e
}

// WorkerEvent builds a {type:"event", event:name, ...} message.
func WorkerEvent(name string, fields map[string]any) Event {
	e := NewEvent(TypeEvent, fields)
	e["event"] = name
	return e
}

// Envelope is a decoded inbound message. Only the fields needed for
// routing are decoded; Raw keeps the exact bytes that were received so
// the message can be forwarded verbatim.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`

	// Present on tool:run messages.
	Tool           string         `json:"tool,omitempty"`
	Args           map[string]any `json:"args,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode parses one framed message.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode message: missing type")
	}
	env.Raw = make(json.RawMessage, len(line))
	copy(env.Raw, line)
	return env, nil
}

// Wrap encodes v and decodes it back into an Envelope, so synthetic
// events travel through the UI sink in the same shape as worker messages.
func Wrap(v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode message: %w", err)
	}
	return Decode(data)
}

// IsResult reports whether the envelope is a tool:result with a request id.
func (e Envelope) IsResult() bool {
	return e.Type == TypeToolResult && e.RequestID != ""
}

// Fields decodes the raw message into a generic map.
func (e Envelope) Fields() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(e.Raw, &m); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return m, nil
}

// EventName returns the "event" field of a worker event, if any.
func (e Envelope) EventName() string {
	if e.Type != TypeEvent {
		return ""
	}
	m, err := e.Fields()
	if err != nil {
		return ""
	}
	name, _ := m["event"].(string)
	return name
}
