package taskstream

import (
	"context"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"go.uber.org/zap"
)

// LiveHandlers receives the non-terminal events of a live task.
// Any nil handler silently drops its event kind; the two terminal kinds
// resolve the call itself and need no handler.
type LiveHandlers struct {
	OnProgress func(ProgressEvent)
	OnUpdate   func(UpdateEvent)
	OnWarning  func(WarningEvent)
	OnError    func(ErrorEvent)
}

// Live opens a long task, joins its event stream, and blocks until the
// terminal event. The success result is returned as raw JSON; a
// fatal_error event surfaces as a *ClassifiedError carrying its message
// and cause. Non-terminal events are dispatched to handlers in arrival
// order before the call resolves, and nothing is dispatched after the
// terminal event.
//
// Opening failures are classified exactly like Call failures. Cancelling
// ctx detaches the subscription and returns the classified context error;
// the server-side task is not stopped.
func (c *Client) Live(ctx context.Context, task string, args any, handlers LiveHandlers) (jsontext.Value, error) {
	body, err := json.Marshal(&RunRequest{Task: task, Args: args})
	if err != nil {
		return nil, Classify(err)
	}
	data, err := c.post(ctx, c.endpoint+"/begin", body)
	if err != nil {
		return nil, err
	}

	var begin BeginResponse
	if err := json.Unmarshal(data, &begin); err != nil || begin.TaskID == "" {
		return nil, classifyInvalidSuccess(data)
	}

	sess, err := c.getSession(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := sess.subscribe(begin.TaskID)
	if err != nil {
		return nil, err
	}
	defer sess.unsubscribe(begin.TaskID)

	c.logger.Debug("live task joined",
		zap.String("task", task),
		zap.String("task_id", begin.TaskID))

	for {
		select {
		case <-ctx.Done():
			return nil, Classify(ctx.Err())
		case raw, ok := <-sub.ch:
			if !ok {
				return nil, sess.err()
			}
			result, terminal, err := c.consumeEvent(raw, handlers)
			if err != nil {
				return nil, err
			}
			if terminal {
				return result, nil
			}
		}
	}
}

// consumeEvent decodes one raw channel message and dispatches it.
// It reports terminal=true with the result for success, terminal via the
// error for fatal_error, and terminal=false for everything else.
func (c *Client) consumeEvent(raw jsontext.Value, h LiveHandlers) (jsontext.Value, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, nil
	}

	switch env.Type {
	case EventProgress:
		var ev ProgressEvent
		if err := json.Unmarshal(raw, &ev); err == nil && h.OnProgress != nil {
			h.OnProgress(ev)
		}
	case EventUpdate:
		var ev UpdateEvent
		if err := json.Unmarshal(raw, &ev); err == nil && h.OnUpdate != nil {
			h.OnUpdate(ev)
		}
	case EventWarning:
		var ev WarningEvent
		if err := json.Unmarshal(raw, &ev); err == nil && h.OnWarning != nil {
			h.OnWarning(ev)
		}
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(raw, &ev); err == nil && h.OnError != nil {
			h.OnError(ev)
		}
	case EventFatalError:
		var ev FatalErrorEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, true, classifyInvalidSuccess(raw)
		}
		return nil, true, &ClassifiedError{Message: ev.Message, Cause: decodeCause(ev.Cause)}
	case EventSuccess:
		var ev SuccessEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, true, classifyInvalidSuccess(raw)
		}
		return ev.Result, true, nil
	case EventJoined:
		// Join acknowledgment; nothing to dispatch.
	default:
		c.logger.Warn("dropping unknown event type", zap.String("type", string(env.Type)))
	}
	return nil, false, nil
}

// decodeCause turns a raw cause payload into plain Go data for
// ClassifiedError. Undecodable causes degrade to nil.
func decodeCause(raw jsontext.Value) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
