package taskstream

import (
	"fmt"

	"github.com/go-json-experiment/json"
)

// Failure messages that are not keyed by an HTTP status code.
const (
	msgUnexpectedError = "An unexpected error occurred"
	msgInvalidSuccess  = "Server responded with success http code, but response body was not valid, this is not expected"
)

// statusMessages maps HTTP status codes to the human messages the
// protocol promises. The wording is part of the wire contract and must
// not be edited.
var statusMessages = map[int]string{
	400: "Invalid Route Name or Arguments",
	401: "Not Authenticated",
	403: "Insufficient Permission",
	404: "Endpoint Not Found (Check endpoint URL.)",
	500: "Unknown Backend Server Error",
	502: "Bad Gateway (Backend server may be off.)",
}

// StatusMessage returns the human message for an HTTP status code.
// Codes outside the table yield "Unknown Error".
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return "Unknown Error"
}

// ClassifiedError is the single normalized failure shape surfaced to
// callers regardless of the failure's origin: transport, protocol,
// application status, or a task's fatal_error event.
type ClassifiedError struct {
	Message string `json:"message"`
	Cause   any    `json:"cause,omitempty"`
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Classify normalizes an arbitrary value into a *ClassifiedError.
// A value that is already classified is returned unchanged, so wrapping a
// failure boundary around another is harmless. The optional cause is
// sanitized so non-serializable data degrades to nil instead of failing
// the classification itself.
func Classify(v any, cause ...any) *ClassifiedError {
	if ce, ok := v.(*ClassifiedError); ok {
		return ce
	}
	var c any
	if len(cause) > 0 {
		c = sanitizeCause(cause[0])
	}
	switch val := v.(type) {
	case error:
		return &ClassifiedError{Message: val.Error(), Cause: c}
	case string:
		return &ClassifiedError{Message: val, Cause: c}
	default:
		return &ClassifiedError{Message: fmt.Sprint(val), Cause: c}
	}
}

// classifyTransport wraps a connectivity failure: the server could not be
// reached or the connection died mid-exchange.
func classifyTransport(err error) *ClassifiedError {
	return &ClassifiedError{
		Message: msgUnexpectedError,
		Cause:   sanitizeCause(err.Error()),
	}
}

// classifyStatus builds the application failure for a non-2xx response.
// The cause carries the status code, the raw body text, and the parsed
// body when it happened to be JSON.
func classifyStatus(status int, body []byte) *ClassifiedError {
	cause := map[string]any{
		"status": status,
		"text":   string(body),
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		cause["body"] = parsed
	}
	return &ClassifiedError{Message: StatusMessage(status), Cause: cause}
}

// classifyInvalidSuccess is the protocol failure for a 2xx response whose
// body could not be parsed.
func classifyInvalidSuccess(body []byte) *ClassifiedError {
	return &ClassifiedError{
		Message: msgInvalidSuccess,
		Cause:   map[string]any{"text": string(body)},
	}
}

// sanitizeCause forces cause data through the JSON codec so cyclic or
// otherwise unserializable values degrade to nil rather than leaking a
// marshal failure out of error handling.
func sanitizeCause(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
