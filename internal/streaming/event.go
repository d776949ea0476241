package streaming

import (
	"encoding/json"
	"time"
)

// Server to client event types.
const (
	TypeConnection       = "connection"
	TypeAgentStart       = "agent_start"
	TypeThinking         = "thinking"
	TypeThinkingComplete = "thinking_complete"
	TypeToolStart        = "tool_start"
	TypeToolResult       = "tool_result"
	TypeToolError        = "tool_error"
	TypeAgentResponse    = "agent_response"
	TypeAborted          = "aborted"
	TypeError            = "error"
	TypeAbortSuccess     = "abort_success"
	TypeAbortError       = "abort_error"
	TypePong             = "pong"
)

// Event is one server to client message. Seq and Timestamp are assigned by the
// Outbox when the event is published.
type Event struct {
	Type      string         `json:"type"`
	ClientID  string         `json:"clientId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Message   string         `json:"message,omitempty"`
	Content   string         `json:"content,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Terminal reports whether the event ends a task.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeAgentResponse, TypeAborted, TypeError:
		return e.TaskID != ""
	default:
		return false
	}
}

// Marshal returns the JSON wire form.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
