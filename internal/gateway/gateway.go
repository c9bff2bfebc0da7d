// Package gateway exposes the engine's entry points over HTTP for local
// control: loop start/stop, manual cycles, status, task stages, knowledge
// and question access.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/config"
	"github.com/mindloop/mindloop/internal/engine"
	"github.com/mindloop/mindloop/internal/lifecycle"
	"github.com/mindloop/mindloop/internal/store"
)

// Server is the local HTTP control surface.
type Server struct {
	engine         *engine.Engine
	store          *store.Store
	cfg            config.GatewayConfig
	defaultSession string
}

// New creates a gateway server.
func New(e *engine.Engine, st *store.Store, cfg config.GatewayConfig, defaultSession string) *Server {
	if defaultSession == "" {
		defaultSession = "default"
	}
	return &Server{engine: e, store: st, cfg: cfg, defaultSession: defaultSession}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/loop/start", s.handleLoopStart)
	mux.HandleFunc("POST /api/loop/stop", s.handleLoopStop)
	mux.HandleFunc("POST /api/cycle", s.handleCycle)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskDetails)
	mux.HandleFunc("POST /api/tasks/{id}/stages", s.handleCompleteStage)
	mux.HandleFunc("POST /api/tasks/{id}/focus", s.handleFocus)
	mux.HandleFunc("GET /api/knowledge", s.handleKnowledgeList)
	mux.HandleFunc("POST /api/knowledge", s.handleKnowledgeCreate)
	mux.HandleFunc("GET /api/questions", s.handleQuestionList)
	mux.HandleFunc("POST /api/questions/evolve", s.handleQuestionEvolve)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) sessionOf(r *http.Request, bodySession string) string {
	if bodySession != "" {
		return bodySession
	}
	if q := r.URL.Query().Get("session"); q != "" {
		return q
	}
	return s.defaultSession
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body. An empty body is fine for endpoints whose
// fields are all optional.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request: %w", err)
}

func (s *Server) handleLoopStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID       string `json:"session_id"`
		IntervalMinutes int    `json:"interval_minutes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := s.sessionOf(r, req.SessionID)
	interval := time.Duration(req.IntervalMinutes) * time.Minute
	s.engine.StartLoop(context.Background(), session, interval)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session, "running": true})
}

func (s *Server) handleLoopStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := s.sessionOf(r, req.SessionID)
	s.engine.StopLoop(session)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session, "running": false})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Trigger   string `json:"trigger"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := s.sessionOf(r, req.SessionID)
	report, err := s.engine.ManualCycle(r.Context(), session, req.Trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session := s.sessionOf(r, "")
	status, err := s.engine.GetStatus(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTaskDetails(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, progress, err := s.engine.Tracker().Details(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("task %s not found", taskID))
		return
	}
	resp := map[string]any{"task": task}
	if progress != nil {
		resp["stages"] = progress.Stages
		resp["overall_completion"] = progress.OverallCompletion
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompleteStage(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req struct {
		Stage    string `json:"stage"`
		Notes    string `json:"notes"`
		Thinking string `json:"thinking"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Stage == "" {
		writeError(w, http.StatusBadRequest, errors.New("stage is required"))
		return
	}
	progress, err := s.engine.Tracker().CompleteStage(r.Context(), taskID, req.Stage, req.Notes, req.Thinking)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownStage) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req struct {
		SessionID   string `json:"session_id"`
		Instruction string `json:"instruction"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := s.sessionOf(r, req.SessionID)
	if err := s.engine.FocusOnTask(r.Context(), session, taskID, req.Instruction); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "focused"})
}

func (s *Server) handleKnowledgeList(w http.ResponseWriter, r *http.Request) {
	session := s.sessionOf(r, "")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.store.ListKnowledgeEntries(session, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleKnowledgeCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string   `json:"session_id"`
		Topic     string   `json:"topic"`
		Content   string   `json:"content"`
		Tags      []string `json:"tags"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Topic == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, errors.New("topic and content are required"))
		return
	}
	entry := &store.KnowledgeEntry{
		ID:        uuid.NewString(),
		SessionID: s.sessionOf(r, req.SessionID),
		Timestamp: time.Now(),
		Source:    store.SourceSynthesis,
		Topic:     req.Topic,
		Content:   req.Content,
		Tags:      req.Tags,
	}
	if err := s.store.InsertKnowledgeEntry(entry); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQuestionList(w http.ResponseWriter, r *http.Request) {
	session := s.sessionOf(r, "")
	includeRetired := r.URL.Query().Get("include_retired") == "true"
	questions, err := s.engine.Pool(session).List(r.Context(), includeRetired)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *Server) handleQuestionEvolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := s.sessionOf(r, req.SessionID)
	if err := s.engine.Pool(session).Evolve(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	count, err := s.engine.Pool(session).CountActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session, "active_questions": count})
}
