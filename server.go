package taskstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server serves the task protocol over HTTP: short tasks on /run, long
// task opens on /begin, and the live event channel on /events.
type Server struct {
	registry *Registry
	hub      *hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	mux      *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger. Defaults to a nop logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithCheckOrigin sets the origin check for event channel upgrades.
// By default all origins are allowed.
func WithCheckOrigin(f func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = f }
}

// NewServer creates a task server for the given registry.
func NewServer(registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/begin", s.handleBegin)
	mux.HandleFunc("/events", s.handleEvents)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ConnectionCount returns the number of active event channel connections.
func (s *Server) ConnectionCount() int {
	return s.hub.connectionCount()
}

// runRequest is the server-side decode of a task invocation body.
type runRequest struct {
	Task string         `json:"task"`
	Args jsontext.Value `json:"args,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	handler, ok := s.registry.Short(req.Task)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("Unknown task '%s'", req.Task),
		})
		return
	}

	result, err := handler(r.Context(), &TaskRequest{Name: req.Task, Args: req.Args})
	if err != nil {
		var fatal *FatalTaskError
		if errors.As(err, &fatal) {
			status := fatal.Status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			body := map[string]any{"message": fatal.Message}
			if fatal.Cause != nil {
				body["cause"] = fatal.Cause
			}
			writeJSON(w, status, body)
			return
		}
		s.logger.Error("short task failed", zap.String("task", req.Task), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "An unknown server error occurred. Please try again later.",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	fn, ok := s.registry.Long(req.Task)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("Unknown task '%s'", req.Task),
		})
		return
	}

	taskID := req.Task + ":" + uuid.NewString()
	s.hub.openTask(taskID)
	go s.runLong(req.Task, taskID, fn, req.Args)

	writeJSON(w, http.StatusAccepted, &BeginResponse{TaskID: taskID})
}

// runLong drives one long task to its terminal event. Whatever the task
// does, exactly one terminal event reaches the task's subscribers.
func (s *Server) runLong(name, taskID string, fn LongTask, args jsontext.Value) {
	tc := newTaskContext(taskID, s.hub)
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("long task panicked",
				zap.String("task", name), zap.Any("panic", v))
			tc.EmitFatalError("An unknown server error occured. Please try again later.", nil)
		}
	}()

	result, err := fn(context.Background(), tc, args)
	if err != nil {
		var fatal *FatalTaskError
		if errors.As(err, &fatal) {
			tc.EmitFatalError(fatal.Message, fatal.Cause)
			return
		}
		s.logger.Error("long task failed", zap.String("task", name), zap.Error(err))
		tc.EmitFatalError("An unknown server error occured. Please try again later.", nil)
		return
	}
	tc.EmitSuccess(result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(ws, s.hub)
	s.hub.register(c)
	go c.writePump()
	c.readPump()
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
