package taskstream

import (
	"sync"

	"go.uber.org/zap"
)

// hub routes task events to the connections joined to each task.
//
// Events emitted before any subscriber joins are buffered and replayed on
// the first join, so a client cannot miss its terminal event by joining
// after a fast task already finished. Once the terminal event has been
// delivered the task's state is discarded and later joins are refused.
type hub struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*taskState
	conns map[*conn]struct{}
}

type taskState struct {
	conns    map[*conn]struct{}
	backlog  [][]byte
	finished bool
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger: logger,
		tasks:  make(map[string]*taskState),
		conns:  make(map[*conn]struct{}),
	}
}

// openTask allocates buffering state for a task before it starts running.
func (h *hub) openTask(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks[taskID] = &taskState{conns: make(map[*conn]struct{})}
}

// emit delivers one encoded event to the task's subscribers, or buffers
// it when nobody has joined yet. Events after the terminal one are
// dropped.
func (h *hub) emit(taskID string, data []byte, terminal bool) {
	h.mu.Lock()
	t := h.tasks[taskID]
	if t == nil || t.finished {
		h.mu.Unlock()
		return
	}
	if terminal {
		t.finished = true
	}

	if len(t.conns) == 0 {
		t.backlog = append(t.backlog, data)
		h.mu.Unlock()
		return
	}

	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	if terminal {
		h.detachTaskLocked(taskID, t)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.enqueue(data)
	}
}

// join subscribes a connection to a task, acknowledging first and then
// replaying any buffered events in emission order.
func (h *hub) join(c *conn, taskID string) {
	h.mu.Lock()
	t := h.tasks[taskID]
	if t == nil {
		h.mu.Unlock()
		h.logger.Debug("join for unknown task", zap.String("task_id", taskID))
		c.enqueueJSON(&ErrorEvent{Type: EventError, TaskID: taskID, Message: "Unknown task_id"})
		return
	}

	backlog := t.backlog
	t.backlog = nil
	if t.finished {
		delete(h.tasks, taskID)
	} else {
		t.conns[c] = struct{}{}
		c.tasks[taskID] = struct{}{}
	}

	// The ack and replay must happen before h.mu is released: a concurrent
	// emit sees the registered conn only under this lock, so nothing it
	// enqueues can land ahead of the backlogged events. enqueue never
	// blocks, so holding the lock here is safe.
	c.enqueueJSON(&JoinedMessage{Type: EventJoined, TaskID: taskID, Message: "Joined task " + taskID})
	for _, data := range backlog {
		c.enqueue(data)
	}
	h.mu.Unlock()
}

func (h *hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *hub) removeConn(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for taskID := range c.tasks {
		if t := h.tasks[taskID]; t != nil {
			delete(t.conns, c)
		}
	}
	h.mu.Unlock()
	c.closeSend()
}

// detachTaskLocked removes a finished task and its subscriptions.
// Caller holds h.mu.
func (h *hub) detachTaskLocked(taskID string, t *taskState) {
	for c := range t.conns {
		delete(c.tasks, taskID)
	}
	delete(h.tasks, taskID)
}

// connectionCount reports the number of live event channel connections.
func (h *hub) connectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
