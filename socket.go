package taskstream

import (
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session is one websocket connection shared by all live calls of a
// Client. Inbound events are routed to subscriptions by task id, so
// concurrent live tasks never see each other's events.
type session struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	cause  *ClassifiedError
}

// subscription receives the raw events of a single task. done is closed
// when the owning call detaches, releasing the read pump if it is blocked
// on delivery.
type subscription struct {
	ch   chan jsontext.Value
	done chan struct{}
}

func newSession(ws *websocket.Conn, logger *zap.Logger) *session {
	return &session{
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

// subscribe registers interest in a task id and sends the join message.
func (s *session) subscribe(taskID string) (*subscription, error) {
	sub := &subscription{
		ch:   make(chan jsontext.Value, 64),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		cause := s.cause
		s.mu.Unlock()
		return nil, cause
	}
	s.subs[taskID] = sub
	s.mu.Unlock()

	if err := s.writeJSON(&JoinMessage{Type: EventJoin, TaskID: taskID}); err != nil {
		s.unsubscribe(taskID)
		return nil, classifyTransport(err)
	}
	return sub, nil
}

// unsubscribe detaches a task's subscription. Safe to call after the
// session failed or the subscription was already removed.
func (s *session) unsubscribe(taskID string) {
	s.mu.Lock()
	sub, ok := s.subs[taskID]
	if ok {
		delete(s.subs, taskID)
	}
	s.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// err returns the failure that closed the session.
func (s *session) err() *ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != nil {
		return s.cause
	}
	return &ClassifiedError{Message: msgUnexpectedError}
}

func (s *session) close() {
	s.fail(&ClassifiedError{Message: "Connection closed"})
}

// fail marks the session dead, closes every subscription channel, and
// closes the socket. Subscribers observe the closed channel and surface
// the recorded cause.
func (s *session) fail(ce *ClassifiedError) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cause = ce
	subs := s.subs
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	s.ws.Close()
}

// readPump routes inbound events to the subscription owning their task id
// until the connection dies, then fails every remaining subscription.
func (s *session) readPump() {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.fail(classifyTransport(err))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("dropping malformed channel message", zap.Error(err))
			continue
		}

		s.mu.Lock()
		sub, ok := s.subs[env.TaskID]
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("dropping event for unsubscribed task",
				zap.String("task_id", env.TaskID),
				zap.String("type", string(env.Type)))
			continue
		}

		select {
		case sub.ch <- jsontext.Value(data):
		case <-sub.done:
			// Subscriber detached mid-delivery; the event is dropped.
		}
	}
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
