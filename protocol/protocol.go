// Package protocol defines the JSON events exchanged with browser clients
// over the websocket connection.
package protocol

import "unicode/utf8"

type EventType string

// Client to server.
const (
	EventBindSession EventType = "bind-session"
	EventRun         EventType = "run"
	EventInput       EventType = "input"
)

// Server to client.
const (
	EventOutput             EventType = "output"
	EventExecutionCompleted EventType = "execution-completed"
	EventExecutionAborted   EventType = "execution-aborted"
	EventError              EventType = "error"
)

// Error codes carried by error events.
const (
	CodeNotBound         = "NOT_BOUND"
	CodeRunInProgress    = "RUN_IN_PROGRESS"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeExecFailed       = "EXEC_FAILED"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeUnknownEventType = "UNKNOWN_EVENT"
)

// Message is an inbound event.
type Message struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Command   string    `json:"command,omitempty"`
	Data      string    `json:"data,omitempty"`
}

// Event is an outbound event. Output that is valid UTF-8 travels as text in
// Data; anything else travels unchanged in Bytes, base64 encoded on the wire.
type Event struct {
	Type     EventType `json:"type"`
	Data     string    `json:"data,omitempty"`
	Bytes    []byte    `json:"bytes,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func Output(data []byte) Event {
	if utf8.Valid(data) {
		return Event{Type: EventOutput, Data: string(data)}
	}
	return Event{Type: EventOutput, Bytes: append([]byte(nil), data...)}
}

// Payload returns the raw output bytes of an output event.
func (e Event) Payload() []byte {
	if e.Bytes != nil {
		return e.Bytes
	}
	return []byte(e.Data)
}

func Completed(exitCode int) Event {
	return Event{Type: EventExecutionCompleted, ExitCode: &exitCode}
}

func Aborted() Event {
	return Event{Type: EventExecutionAborted}
}

func Error(code, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}
