package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zphelps/jarvis/internal/models"
)

// Server provides the HTTP API for Jarvis.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/dispatches", s.handleDispatches)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/notifications", s.handleNotifications)
	mux.HandleFunc("/notifications/", s.handleNotificationByID)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting Jarvis daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleDispatches handles POST /dispatches
func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.Dispatch(r.Context(), r.URL.Query().Get("user"), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// handleTasks handles GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filters := models.TaskFilters{
		Status:   models.TaskStatus(q.Get("status")),
		Priority: models.TaskPriority(q.Get("priority")),
	}
	if v := q.Get("attention"); v != "" {
		needs := v == "true" || v == "1"
		filters.NeedsAttention = &needs
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filters.Limit = n
	}

	tasks, err := s.service.ListTasks(q.Get("user"), filters)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/{action}
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "events" && r.Method == http.MethodGet:
		s.getTaskEvents(w, r, taskID)
	case action == "subtasks" && r.Method == http.MethodGet:
		s.getSubtasks(w, r, taskID)
	case action == "respond" && r.Method == http.MethodPost:
		s.respondTask(w, r, taskID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTask(w, r, taskID)
	case action == "retry" && r.Method == http.MethodPost:
		s.retryTask(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.service.GetTask(taskID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	evs, err := s.service.TaskEvents(taskID, limit)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if evs == nil {
		evs = []models.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) getSubtasks(w http.ResponseWriter, r *http.Request, taskID string) {
	subtasks, err := s.service.Subtasks(taskID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if subtasks == nil {
		subtasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, subtasks)
}

type respondRequest struct {
	Response string `json:"response"`
}

func (s *Server) respondTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.service.Respond(r.Context(), taskID, req.Response); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeStatus(w, "resumed")
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	if err := s.service.Cancel(r.Context(), taskID, req.Reason); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeStatus(w, "cancelled")
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.service.Retry(r.Context(), taskID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeStatus(w, "queued")
}

// handleNotifications handles GET /notifications
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	notifications, err := s.service.Notifications(r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// handleNotificationByID handles POST /notifications/{id}/resolve
func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/notifications/")
	parts := strings.Split(path, "/")

	if len(parts) != 2 || parts[0] == "" || parts[1] != "resolve" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if err := s.service.ResolveNotification(parts[0]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeStatus(w, "resolved")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
