package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
)

// Client to server message types.
const (
	MsgChat  = "chat"
	MsgAbort = "abort"
	MsgPing  = "ping"
)

// ClientMessage is one decoded client frame.
type ClientMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ProtocolError is a malformed or unsupported client message. It is reported
// to the client and never affects the running task.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Decode parses one client frame.
func Decode(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, &ProtocolError{Reason: "invalid JSON", Err: err}
	}
	switch msg.Type {
	case MsgChat, MsgAbort, MsgPing:
		return msg, nil
	case "":
		return ClientMessage{}, &ProtocolError{Reason: "missing message type"}
	default:
		return ClientMessage{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

const previewRunes = 280

func preview(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "…"
}

// thinkingText describes a generation call for the thinking event.
func thinkingText(req llm.Request) string {
	switch req.Purpose {
	case "plan":
		return "Planning the research approach"
	case "respond":
		return "Writing the final answer"
	default:
		return "Thinking"
	}
}

// scalarArgs keeps the printable arguments of a tool call for tool_start.
// Large structured values such as insight lists are omitted.
func scalarArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch v := v.(type) {
		case string:
			out[k] = preview(v)
		case int, int32, int64, float32, float64, bool:
			out[k] = v
		}
	}
	return out
}
