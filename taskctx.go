package taskstream

import (
	"fmt"
	"sync/atomic"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"go.uber.org/zap"
)

// FatalTaskError terminates a task with a message and optional cause that
// travel to the client verbatim. Status sets the HTTP response code when
// returned from a short task; zero means 500.
type FatalTaskError struct {
	Message string
	Status  int
	Cause   any
}

func (e *FatalTaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// TaskContext lets a long task emit events to its subscribers.
//
// Emitters are safe for concurrent use from multiple goroutines of the
// same task. Exactly one terminal event is ever delivered: the first
// EmitSuccess or EmitFatalError wins and everything after it is dropped.
type TaskContext struct {
	taskID string
	hub    *hub
	done   atomic.Bool
}

func newTaskContext(taskID string, h *hub) *TaskContext {
	return &TaskContext{taskID: taskID, hub: h}
}

// TaskID returns the server-assigned id of this task.
func (tc *TaskContext) TaskID() string {
	return tc.taskID
}

// EmitProgress reports completion of current out of total work units.
func (tc *TaskContext) EmitProgress(current, total int) {
	tc.emitNonTerminal(&ProgressEvent{
		Type:    EventProgress,
		TaskID:  tc.taskID,
		Current: current,
		Total:   total,
	})
}

// EmitNamedProgress reports progress on a named sub-stream, for tasks
// running several measurable phases at once.
func (tc *TaskContext) EmitNamedProgress(name string, current, total int) {
	tc.emitNonTerminal(&ProgressEvent{
		Type:    EventProgress,
		TaskID:  tc.taskID,
		Current: current,
		Total:   total,
		Name:    name,
	})
}

// EmitUpdate sends an informational message.
func (tc *TaskContext) EmitUpdate(message string, extra any) {
	tc.emitNonTerminal(&UpdateEvent{
		Type:    EventUpdate,
		TaskID:  tc.taskID,
		Message: message,
		Extra:   tc.encode(extra),
	})
}

// EmitWarning reports a recoverable anomaly.
func (tc *TaskContext) EmitWarning(message string, extra any) {
	tc.emitNonTerminal(&WarningEvent{
		Type:    EventWarning,
		TaskID:  tc.taskID,
		Message: message,
		Extra:   tc.encode(extra),
	})
}

// EmitError reports a recoverable application error. The task continues;
// use EmitFatalError or return an error from the task to end it.
func (tc *TaskContext) EmitError(message string, cause any) {
	tc.emitNonTerminal(&ErrorEvent{
		Type:    EventError,
		TaskID:  tc.taskID,
		Message: message,
		Cause:   tc.encode(cause),
	})
}

// EmitFatalError terminates the task with failure.
func (tc *TaskContext) EmitFatalError(message string, cause any) {
	if !tc.done.CompareAndSwap(false, true) {
		return
	}
	tc.emit(&FatalErrorEvent{
		Type:    EventFatalError,
		TaskID:  tc.taskID,
		Message: message,
		Cause:   tc.encode(cause),
	}, true)
}

// EmitSuccess terminates the task with a result.
func (tc *TaskContext) EmitSuccess(result any) {
	if !tc.done.CompareAndSwap(false, true) {
		return
	}
	tc.emit(&SuccessEvent{
		Type:   EventSuccess,
		TaskID: tc.taskID,
		Result: tc.encode(result),
	}, true)
}

func (tc *TaskContext) emitNonTerminal(v any) {
	if tc.done.Load() {
		return
	}
	tc.emit(v, false)
}

func (tc *TaskContext) emit(v any, terminal bool) {
	data, err := json.Marshal(v)
	if err != nil {
		tc.hub.logger.Error("failed to encode task event",
			zap.String("task_id", tc.taskID), zap.Error(err))
		return
	}
	tc.hub.emit(tc.taskID, data, terminal)
}

// encode turns an arbitrary payload into raw JSON, degrading to null on
// failure so a bad payload cannot take down the event stream.
func (tc *TaskContext) encode(v any) jsontext.Value {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		tc.hub.logger.Warn("dropping unserializable event payload",
			zap.String("task_id", tc.taskID), zap.Error(err))
		return jsontext.Value("null")
	}
	return jsontext.Value(data)
}
