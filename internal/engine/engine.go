// Package engine drives the autonomous loop: a per-session timer runs
// reflection cycles through the lens pipeline, research, task admission,
// and question evolution. Session state (question pool, timer, cycle lock)
// lives in an explicit registry keyed by session id.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mindloop/mindloop/internal/bus"
	"github.com/mindloop/mindloop/internal/config"
	"github.com/mindloop/mindloop/internal/lens"
	"github.com/mindloop/mindloop/internal/lifecycle"
	"github.com/mindloop/mindloop/internal/pool"
	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/publish"
	"github.com/mindloop/mindloop/internal/store"
)

// Options wires the engine's collaborators.
type Options struct {
	Store      *store.Store
	Generator  provider.Generator
	Researcher provider.Researcher
	Bus        *bus.MessageBus
	Fanout     *publish.Fanout
	Config     config.EngineConfig
}

// Status is the per-session engine snapshot.
type Status struct {
	SessionID           string `json:"session_id"`
	IsRunning           bool   `json:"is_running"`
	EntryCount          int    `json:"entry_count"`
	ActiveQuestionCount int    `json:"active_question_count"`
}

// Engine owns the session registry and the cycle machinery.
type Engine struct {
	store      *store.Store
	gen        provider.Generator
	researcher provider.Researcher
	pipeline   *lens.Pipeline
	tracker    *lifecycle.Tracker
	bus        *bus.MessageBus
	fanout     *publish.Fanout
	cfg        config.EngineConfig

	// randFloat drives the evolve dice roll. Swappable in tests.
	randFloat func() float64
	// randIntn picks the refocus target. Swappable in tests.
	randIntn func(n int) int

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the per-session state: question pool, timer handle, and the
// mutex that serializes cycles.
type session struct {
	id      string
	pool    *pool.Pool
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates an engine.
func New(opts Options) *Engine {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rndMu sync.Mutex
	return &Engine{
		store:      opts.Store,
		gen:        opts.Generator,
		researcher: opts.Researcher,
		pipeline:   lens.New(opts.Store, opts.Generator),
		tracker:    lifecycle.New(opts.Store, opts.Generator, opts.Config.IncompleteTaskCap),
		bus:        opts.Bus,
		fanout:     opts.Fanout,
		cfg:        opts.Config,
		randFloat: func() float64 {
			rndMu.Lock()
			defer rndMu.Unlock()
			return rnd.Float64()
		},
		randIntn: func(n int) int {
			rndMu.Lock()
			defer rndMu.Unlock()
			return rnd.Intn(n)
		},
		sessions: make(map[string]*session),
	}
}

// Tracker exposes the task lifecycle tracker for the gateway and CLI.
func (e *Engine) Tracker() *lifecycle.Tracker { return e.tracker }

// Pool returns the question pool for a session, creating state on first use.
func (e *Engine) Pool(sessionID string) *pool.Pool {
	return e.session(sessionID).pool
}

// session returns the registry entry, creating it on first access.
func (e *Engine) session(sessionID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &session{
			id:   sessionID,
			pool: pool.New(sessionID, e.store, e.gen),
		}
		e.sessions[sessionID] = s
	}
	return s
}

// StartLoop runs one cycle immediately, then arms a repeating timer for the
// session. Starting an already-running session replaces its timer.
func (e *Engine) StartLoop(ctx context.Context, sessionID string, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.Interval()
	}
	s := e.session(sessionID)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	slog.Info("Autonomous loop started", "session", sessionID, "interval", interval)
	go e.loop(loopCtx, s, interval)
}

// loop is the scheduled path: cycle failures are logged, never surfaced, and
// the timer proceeds untouched.
func (e *Engine) loop(ctx context.Context, s *session, interval time.Duration) {
	e.runScheduled(ctx, s)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runScheduled(ctx, s)
		}
	}
}

func (e *Engine) runScheduled(ctx context.Context, s *session) {
	report, err := e.cycle(ctx, s, "")
	if err != nil {
		slog.Error("Scheduled cycle failed", "session", s.id, "error", err)
		return
	}
	slog.Info("Cycle complete", "session", s.id,
		"trigger", report.Trigger,
		"tasks", len(report.TasksCreated),
		"knowledge", len(report.KnowledgeTopics),
		"research", len(report.ResearchTopics))
}

// StopLoop cancels the session's timer. Idempotent; an in-flight cycle runs
// to completion.
func (e *Engine) StopLoop(sessionID string) {
	s := e.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.running {
		slog.Info("Autonomous loop stopped", "session", sessionID)
	}
	s.running = false
}

// StopAll stops every running session loop.
func (e *Engine) StopAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.StopLoop(id)
	}
}

// ManualCycle runs one cycle on demand, bypassing the timer. Unlike the
// scheduled path, a pipeline failure propagates to the caller.
func (e *Engine) ManualCycle(ctx context.Context, sessionID, trigger string) (*CycleReport, error) {
	return e.cycle(ctx, e.session(sessionID), trigger)
}

// GetStatus reports the session's loop state and corpus counters.
func (e *Engine) GetStatus(ctx context.Context, sessionID string) (*Status, error) {
	s := e.session(sessionID)
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	entries, err := e.store.CountKnowledgeEntries(sessionID)
	if err != nil {
		return nil, fmt.Errorf("count knowledge entries: %w", err)
	}
	questions, err := s.pool.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active questions: %w", err)
	}
	return &Status{
		SessionID:           sessionID,
		IsRunning:           running,
		EntryCount:          entries,
		ActiveQuestionCount: questions,
	}, nil
}

const refocusSystem = `An autonomous worker must advance an existing task instead of starting
new work. Given the task and its stage progress, write 2-3 sentences of
concrete direction: what to do next and why it unblocks the task.`

// FocusOnTask redirects attention to an existing task: it synthesizes a
// short direction note, appends it to the task, and marks the task in
// progress. Synthesis failure falls back to a templated note.
func (e *Engine) FocusOnTask(ctx context.Context, sessionID, taskID, instruction string) error {
	task, progress, err := e.tracker.Details(ctx, taskID)
	if err != nil {
		return fmt.Errorf("focus on task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("focus on task %s: not found", taskID)
	}

	prompt := "Task: " + task.Title
	if progress != nil {
		prompt += fmt.Sprintf("\nCompletion: %d%%", progress.OverallCompletion)
		for _, stage := range lifecycle.StageOrder {
			rec := progress.Stages[stage]
			state := "pending"
			if rec.Completed {
				state = "done"
			}
			prompt += fmt.Sprintf("\n- %s: %s", stage, state)
		}
	}
	if instruction != "" {
		prompt += "\nInstruction: " + instruction
	}

	note, genErr := e.gen.Generate(ctx, &provider.GenerateRequest{System: refocusSystem, Prompt: prompt})
	if genErr != nil {
		slog.Warn("Refocus synthesis failed, using template", "task", taskID, "error", genErr)
		note = "Refocus: continue the next pending stage of this task."
		if instruction != "" {
			note = "Refocus: " + instruction
		}
	}
	if err := e.store.AppendTaskNote(taskID, note); err != nil {
		return fmt.Errorf("append refocus note: %w", err)
	}
	if task.Status == store.TaskStatusPending {
		if err := e.store.UpdateTaskStatus(taskID, store.TaskStatusInProgress); err != nil {
			slog.Warn("Refocus status update lost", "task", taskID, "error", err)
		}
	}
	slog.Info("Refocused on task", "session", sessionID, "task", taskID)
	return nil
}
