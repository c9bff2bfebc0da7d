// Package limiter throttles an externally-driven tool-selection loop:
// after a fixed number of exploratory actions it forces a consolidation
// cycle (diary + knowledge entry + published artifact) before allowing
// further exploration.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/publish"
	"github.com/mindloop/mindloop/internal/store"
)

// DefaultMaxTools is the number of tool uses allowed before a forced
// consolidation.
const DefaultMaxTools = 5

// Action type constants.
const (
	ActionTool          = "tool"
	ActionConsolidation = "consolidation"
)

// Action is the outcome of one requested action: either a normal tool run
// or a forced consolidation.
type Action struct {
	Type   string `json:"type"`
	Tool   string `json:"tool,omitempty"`
	Result string `json:"result"`
}

// Selection performs the normal external tool selection and execution,
// returning the chosen tool's name and its result.
type Selection func(ctx context.Context) (tool string, result string, err error)

// State is the per-session limiter state.
type State struct {
	SessionID           string    `json:"session_id"`
	ToolUsageCount      int       `json:"tool_usage_count"`
	MaxTools            int       `json:"max_tools_before_dependency"`
	LastCompletionTime  time.Time `json:"last_completion_time"`
	CurrentCycleActions []string  `json:"current_cycle_actions"`
}

// Limiter owns limiter state per session.
type Limiter struct {
	store  *store.Store
	gen    provider.Generator
	fanout *publish.Fanout
	max    int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	mu    sync.Mutex
	state State
}

// New creates a limiter. max <= 0 uses DefaultMaxTools.
func New(st *store.Store, gen provider.Generator, fanout *publish.Fanout, max int) *Limiter {
	if max <= 0 {
		max = DefaultMaxTools
	}
	return &Limiter{
		store:    st,
		gen:      gen,
		fanout:   fanout,
		max:      max,
		sessions: make(map[string]*sessionState),
	}
}

// session returns the state for a session, creating it on first access.
func (l *Limiter) session(sessionID string) *sessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ss, ok := l.sessions[sessionID]
	if !ok {
		ss = &sessionState{state: State{SessionID: sessionID, MaxTools: l.max}}
		l.sessions[sessionID] = ss
	}
	return ss
}

// State returns a snapshot of the session's limiter state.
func (l *Limiter) State(sessionID string) State {
	ss := l.session(sessionID)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	snapshot := ss.state
	snapshot.CurrentCycleActions = append([]string(nil), ss.state.CurrentCycleActions...)
	return snapshot
}

// Reset tears down a session's limiter state.
func (l *Limiter) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Next handles one requested action. When the tool-usage counter has
// saturated, the normal selection path is not invoked: a consolidation
// action runs instead and the counter resets. Otherwise the selection runs
// and the counter advances.
func (l *Limiter) Next(ctx context.Context, sessionID string, selection Selection) (*Action, error) {
	ss := l.session(sessionID)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.state.ToolUsageCount >= ss.state.MaxTools {
		result := l.consolidate(ctx, &ss.state)
		// Atomic with the consolidation: counter and actions reset together.
		ss.state.ToolUsageCount = 0
		ss.state.CurrentCycleActions = nil
		ss.state.LastCompletionTime = time.Now()
		return &Action{Type: ActionConsolidation, Result: result}, nil
	}

	tool, result, err := selection(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool selection: %w", err)
	}
	ss.state.ToolUsageCount++
	ss.state.CurrentCycleActions = append(ss.state.CurrentCycleActions, tool)
	return &Action{Type: ActionTool, Tool: tool, Result: result}, nil
}

const consolidationDiarySystem = `Write a short first-person diary entry summarizing this run of
exploratory actions: what was tried, what stood out. 3-4 sentences.`

const consolidationArtifactSystem = `Turn this summary of an exploration cycle into a short piece of
publishable content: a titled note a reader outside the system would find useful.`

// consolidate runs the completion cycle: diary entry, knowledge entry, and
// published artifact. Each step fails independently; a failure is logged and
// the remaining steps still run.
func (l *Limiter) consolidate(ctx context.Context, st *State) string {
	actions := strings.Join(st.CurrentCycleActions, ", ")
	if actions == "" {
		actions = "(no recorded actions)"
	}
	slog.Info("Forcing consolidation cycle", "session", st.SessionID, "actions", len(st.CurrentCycleActions))

	diaryText, err := l.gen.Generate(ctx, &provider.GenerateRequest{
		System: consolidationDiarySystem,
		Prompt: "Actions this cycle: " + actions,
	})
	if err != nil {
		slog.Warn("Consolidation diary synthesis failed, using template", "session", st.SessionID, "error", err)
		diaryText = fmt.Sprintf("I paused to consolidate after %d actions: %s.", len(st.CurrentCycleActions), actions)
	}
	if err := l.store.InsertDiaryEntry(&store.DiaryEntry{
		ID:        uuid.NewString(),
		SessionID: st.SessionID,
		Timestamp: time.Now(),
		Kind:      store.DiaryKindConsolidation,
		Title:     "Consolidation cycle",
		Content:   diaryText,
		Metadata:  map[string]string{"actions": actions},
	}); err != nil {
		slog.Warn("Consolidation diary entry lost", "session", st.SessionID, "error", err)
	}

	if err := l.store.InsertKnowledgeEntry(&store.KnowledgeEntry{
		ID:        uuid.NewString(),
		SessionID: st.SessionID,
		Timestamp: time.Now(),
		Source:    store.SourceConsolidation,
		Topic:     "Exploration cycle",
		Content:   fmt.Sprintf("Cycle of %d actions: %s", len(st.CurrentCycleActions), actions),
		Tags:      []string{store.EngineTag, "consolidation"},
	}); err != nil {
		slog.Warn("Consolidation knowledge entry lost", "session", st.SessionID, "error", err)
	}

	content, err := l.gen.Generate(ctx, &provider.GenerateRequest{
		System: consolidationArtifactSystem,
		Prompt: diaryText,
	})
	if err != nil {
		slog.Warn("Consolidation artifact synthesis failed, publishing summary", "session", st.SessionID, "error", err)
		content = diaryText
	}
	if l.fanout != nil {
		l.fanout.Publish(ctx, &publish.Artifact{
			ID:        uuid.NewString(),
			SessionID: st.SessionID,
			Kind:      publish.KindConsolidation,
			Title:     "Consolidation: " + time.Now().Format("2006-01-02 15:04"),
			Content:   content,
			CreatedAt: time.Now(),
		})
	}

	return fmt.Sprintf("Consolidated %d actions into a diary entry, a knowledge entry, and a published artifact.", len(st.CurrentCycleActions))
}
