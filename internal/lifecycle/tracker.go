// Package lifecycle tracks engine-created tasks through the five-stage
// completion state machine and finalizes them at 100%.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

// Stage names. The set is fixed; the order is fixed for display only —
// stages may complete in any order.
const (
	StageResearch    = "research"
	StagePlanning    = "planning"
	StageExecution   = "execution"
	StageKnowledge   = "knowledge"
	StagePublication = "publication"
)

// StageOrder is the display order of the five stages.
var StageOrder = []string{StageResearch, StagePlanning, StageExecution, StageKnowledge, StagePublication}

// DefaultIncompleteTaskCap blocks new task creation when reached.
const DefaultIncompleteTaskCap = 5

// ErrUnknownStage is returned when a stage name is not one of StageOrder.
var ErrUnknownStage = errors.New("unknown stage")

// Admission is the result of an admission-control check. A blocked admission
// is a control-flow signal, not an error.
type Admission struct {
	Blocked         bool   `json:"blocked"`
	Reason          string `json:"reason,omitempty"`
	IncompleteTasks int    `json:"incompleteTasks"`
}

// Tracker is the task lifecycle state machine.
type Tracker struct {
	store *store.Store
	gen   provider.Generator
	limit int

	mu    sync.Mutex
	tasks map[string]*sync.Mutex
}

// New creates a tracker. limit <= 0 uses DefaultIncompleteTaskCap.
func New(st *store.Store, gen provider.Generator, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultIncompleteTaskCap
	}
	return &Tracker{store: st, gen: gen, limit: limit, tasks: make(map[string]*sync.Mutex)}
}

// taskLock returns the mutex serializing stage updates for one task.
func (t *Tracker) taskLock(taskID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.tasks[taskID]
	if !ok {
		l = &sync.Mutex{}
		t.tasks[taskID] = l
	}
	return l
}

// Limit returns the configured incomplete-task cap.
func (t *Tracker) Limit() int { return t.limit }

// ShouldBlockCreation counts incomplete tracked tasks and blocks creation
// when the cap is reached.
func (t *Tracker) ShouldBlockCreation(ctx context.Context, sessionID string) (Admission, error) {
	n, err := t.store.CountIncompleteProgress(sessionID)
	if err != nil {
		return Admission{}, fmt.Errorf("count incomplete tasks: %w", err)
	}
	if n >= t.limit {
		return Admission{
			Blocked:         true,
			Reason:          fmt.Sprintf("%d incomplete tasks at or above limit %d; complete existing work first", n, t.limit),
			IncompleteTasks: n,
		}, nil
	}
	return Admission{IncompleteTasks: n}, nil
}

// newProgress builds a fresh progress record with all stages incomplete.
func newProgress(taskID, sessionID string) *store.TaskProgress {
	stages := make(map[string]store.StageRecord, len(StageOrder))
	for _, s := range StageOrder {
		stages[s] = store.StageRecord{Stage: s}
	}
	return &store.TaskProgress{
		TaskID:    taskID,
		SessionID: sessionID,
		Stages:    stages,
	}
}

// Initialize creates the progress record for a task. A second call is a
// no-op so genuine progress is never reset.
func (t *Tracker) Initialize(ctx context.Context, sessionID, taskID string) (*store.TaskProgress, error) {
	l := t.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	existing, err := t.store.GetTaskProgress(taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	tp := newProgress(taskID, sessionID)
	if err := t.store.SaveTaskProgress(tp); err != nil {
		return nil, err
	}
	return tp, nil
}

// completionPercent computes round(100 * completed / 5).
func completionPercent(tp *store.TaskProgress) int {
	done := 0
	for _, s := range StageOrder {
		if tp.Stages[s].Completed {
			done++
		}
	}
	return done * 100 / len(StageOrder)
}

// validStage reports whether name is one of the five stages.
func validStage(name string) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// CompleteStage marks a stage complete. Idempotent per stage: re-invoking an
// already-completed stage updates notes and thinking only. Unknown tasks are
// auto-initialized, favoring forward progress over strict validation.
// Finalization fires exactly once, at the transition to 100%.
func (t *Tracker) CompleteStage(ctx context.Context, taskID, stage, notes, thinking string) (*store.TaskProgress, error) {
	if !validStage(stage) {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownStage, stage, strings.Join(StageOrder, ", "))
	}

	// Stage updates for one task are serialized end to end, finalization
	// included. Concurrent calls otherwise race on the stages blob and can
	// both observe the 80 -> 100 transition.
	l := t.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	tp, err := t.store.GetTaskProgress(taskID)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		sessionID := ""
		if task, err := t.store.GetTask(taskID); err == nil && task != nil {
			sessionID = task.SessionID
		}
		tp = newProgress(taskID, sessionID)
	}

	rec := tp.Stages[stage]
	rec.Stage = stage
	rec.Notes = notes
	if thinking != "" {
		rec.Thinking = thinking
	}
	if !rec.Completed {
		rec.Completed = true
		now := time.Now()
		rec.CompletedAt = &now
	}
	tp.Stages[stage] = rec

	before := tp.OverallCompletion
	tp.OverallCompletion = completionPercent(tp)
	if err := t.store.SaveTaskProgress(tp); err != nil {
		return nil, err
	}

	if tp.OverallCompletion == 100 && before < 100 {
		t.finalize(ctx, tp)
	}
	return tp, nil
}

const finalizeKnowledgeSystem = `Synthesize the completed task's stage notes into a knowledge entry.
Return JSON: {"summary": "...", "insights": ["..."], "outcomes": ["..."]}. Return only JSON.`

const finalizeDiarySystem = `Write a short first-person diary entry reflecting on the task just
completed: what was done, what was learned, what comes next. 3-5 sentences.`

// finalize produces the knowledge entry and diary entry for a completed task
// and sets the terminal status. Every step is best-effort: synthesis
// failures substitute templated fallbacks so finalize always completes.
// Callers hold the task lock; the terminal-status check is a backstop for
// tasks finalized through an earlier process.
func (t *Tracker) finalize(ctx context.Context, tp *store.TaskProgress) {
	task, err := t.store.GetTask(tp.TaskID)
	if err != nil {
		slog.Warn("Finalize could not load task", "task", tp.TaskID, "error", err)
	}
	title := tp.TaskID
	if task != nil {
		if task.Status == store.TaskStatusDone {
			slog.Debug("Task already finalized", "task", tp.TaskID)
			return
		}
		title = task.Title
	}

	var notes strings.Builder
	completed := make([]string, 0, len(StageOrder))
	for _, s := range StageOrder {
		rec := tp.Stages[s]
		if rec.Completed {
			completed = append(completed, s)
		}
		if rec.Notes != "" {
			fmt.Fprintf(&notes, "[%s] %s\n", s, rec.Notes)
		}
	}

	// Knowledge entry synthesizing the stage notes.
	content := ""
	text, err := t.gen.Generate(ctx, &provider.GenerateRequest{
		System: finalizeKnowledgeSystem,
		Prompt: fmt.Sprintf("Task: %s\n\nStage notes:\n%s", title, notes.String()),
	})
	if err == nil {
		content = text
	} else {
		slog.Warn("Finalization knowledge synthesis failed, using template", "task", tp.TaskID, "error", err)
		content = fmt.Sprintf("Task %q completed through all stages: %s.", title, strings.Join(completed, ", "))
	}
	entry := &store.KnowledgeEntry{
		ID:        uuid.NewString(),
		SessionID: tp.SessionID,
		Timestamp: time.Now(),
		Source:    store.SourceFinalization,
		Topic:     title,
		Content:   content,
		Tags:      []string{store.EngineTag, "completed-task"},
		Metadata:  map[string]string{"task_id": tp.TaskID},
	}
	if err := t.store.InsertKnowledgeEntry(entry); err != nil {
		slog.Warn("Finalization knowledge entry lost", "task", tp.TaskID, "error", err)
	}

	// First-person diary entry, same fallback policy.
	diaryText, err := t.gen.Generate(ctx, &provider.GenerateRequest{
		System: finalizeDiarySystem,
		Prompt: fmt.Sprintf("Task: %s\n\nStage notes:\n%s", title, notes.String()),
	})
	if err != nil {
		slog.Warn("Finalization diary synthesis failed, using template", "task", tp.TaskID, "error", err)
		diaryText = fmt.Sprintf("I finished %q today. I worked it through %s and closed it out.", title, strings.Join(completed, ", "))
	}
	diary := &store.DiaryEntry{
		ID:        uuid.NewString(),
		SessionID: tp.SessionID,
		Timestamp: time.Now(),
		Kind:      store.DiaryKindFinalization,
		Title:     fmt.Sprintf("Completed: %s", title),
		Content:   diaryText,
		Metadata:  map[string]string{"task_id": tp.TaskID},
	}
	if err := t.store.InsertDiaryEntry(diary); err != nil {
		slog.Warn("Finalization diary entry lost", "task", tp.TaskID, "error", err)
	}

	if task != nil {
		note := fmt.Sprintf("Completed stages in order: %s", strings.Join(StageOrder, " -> "))
		if err := t.store.AppendTaskNote(tp.TaskID, note); err != nil {
			slog.Warn("Finalization task note lost", "task", tp.TaskID, "error", err)
		}
		if err := t.store.UpdateTaskStatus(tp.TaskID, store.TaskStatusDone); err != nil {
			slog.Warn("Finalization status update failed", "task", tp.TaskID, "error", err)
		}
	}
	slog.Info("Task finalized", "task", tp.TaskID, "title", title)
}

// Details returns a task with its stage map and completion, for display.
func (t *Tracker) Details(ctx context.Context, taskID string) (*store.Task, *store.TaskProgress, error) {
	task, err := t.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	tp, err := t.store.GetTaskProgress(taskID)
	if err != nil {
		return nil, nil, err
	}
	return task, tp, nil
}
