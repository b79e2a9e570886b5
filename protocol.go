package taskstream

import "github.com/go-json-experiment/json/jsontext"

// EventType tags every message exchanged on the live event channel.
type EventType string

const (
	EventJoin       EventType = "join"
	EventJoined     EventType = "joined"
	EventProgress   EventType = "progress"
	EventUpdate     EventType = "update"
	EventWarning    EventType = "warning"
	EventError      EventType = "error"
	EventFatalError EventType = "fatal_error"
	EventSuccess    EventType = "success"
)

// JoinMessage subscribes the sending connection to a task's event stream.
type JoinMessage struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
}

// JoinedMessage acknowledges a join before any buffered events are replayed.
type JoinedMessage struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"task_id"`
	Message string    `json:"message,omitempty"`
}

// ProgressEvent reports completion of Current out of Total work units.
// Name disambiguates concurrent progress streams within one task.
// The protocol does not enforce Current <= Total; consumers must tolerate
// either ordering.
type ProgressEvent struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"task_id"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Name    string    `json:"name,omitempty"`
}

// UpdateEvent is an informational, non-terminal message.
type UpdateEvent struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id"`
	Message string         `json:"message"`
	Extra   jsontext.Value `json:"extra,omitempty"`
}

// WarningEvent reports a recoverable anomaly. The task keeps running.
type WarningEvent struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id"`
	Message string         `json:"message"`
	Extra   jsontext.Value `json:"extra,omitempty"`
}

// ErrorEvent is a recoverable application-level error. Unlike
// FatalErrorEvent it does not end the task.
type ErrorEvent struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id"`
	Message string         `json:"message"`
	Cause   jsontext.Value `json:"cause,omitempty"`
}

// FatalErrorEvent terminates the task with failure.
type FatalErrorEvent struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id"`
	Message string         `json:"message"`
	Cause   jsontext.Value `json:"cause,omitempty"`
}

// SuccessEvent terminates the task with a result.
type SuccessEvent struct {
	Type   EventType      `json:"type"`
	TaskID string         `json:"task_id"`
	Result jsontext.Value `json:"result,omitempty"`
}

// envelope is the minimal decode of any channel message, enough to route
// it by task id before the concrete struct is unmarshaled.
type envelope struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
}

// RunRequest is the client-side body of POST /run and POST /begin.
type RunRequest struct {
	Task string `json:"task"`
	Args any    `json:"args,omitempty"`
}

// BeginResponse is the success body of POST /begin.
type BeginResponse struct {
	TaskID string `json:"task_id"`
}
