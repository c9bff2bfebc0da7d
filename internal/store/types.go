package store

import (
	"time"
)

// SelfQuestion is a candidate trigger with usage and effectiveness metadata.
// Questions are soft-deleted via RetiredAt and never removed from the table.
type SelfQuestion struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	Text          string     `json:"text"`
	Category      string     `json:"category"`
	UseCount      int        `json:"use_count"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	Effectiveness float64    `json:"effectiveness"`
	CreatedAt     time.Time  `json:"created_at"`
	RetiredAt     *time.Time `json:"retired_at,omitempty"`
}

// Retired reports whether the question has been soft-deleted.
func (q *SelfQuestion) Retired() bool { return q.RetiredAt != nil }

// LensSession is one completed run of the five-step lens pipeline.
// Persisted once, after all steps finish; immutable afterwards.
type LensSession struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Trigger           string    `json:"trigger"`
	FrameStep         string    `json:"frame_step"`
	ReframeStep       string    `json:"reframe_step"`
	MetaLensStep      string    `json:"meta_lens_step"`
	RecursiveStep     string    `json:"recursive_step"`
	ClosureStep       string    `json:"closure_step"`
	GeneratedTasks    []string  `json:"generated_tasks"`
	GeneratedKB       []string  `json:"generated_kb_entries"`
	GeneratedResearch []string  `json:"generated_research"`
	CompletedAt       time.Time `json:"completed_at"`
}

// StepTexts returns the five step texts in pipeline order.
func (s *LensSession) StepTexts() []string {
	return []string{s.FrameStep, s.ReframeStep, s.MetaLensStep, s.RecursiveStep, s.ClosureStep}
}

// KnowledgeEntry is an append-only knowledge record.
type KnowledgeEntry struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	LensSessionID string            `json:"lens_session_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Topic         string            `json:"topic"`
	Content       string            `json:"content"`
	Tags          []string          `json:"tags,omitempty"`
	DerivedTasks  []string          `json:"derived_tasks,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Knowledge entry sources.
const (
	SourceResearch      = "research"
	SourceSynthesis     = "synthesis"
	SourceFinalization  = "task_finalization"
	SourceConsolidation = "consolidation"
)

// StageRecord tracks one lifecycle stage of a task.
type StageRecord struct {
	Stage       string     `json:"stage"`
	Completed   bool       `json:"completed"`
	Notes       string     `json:"notes,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Thinking    string     `json:"thinking,omitempty"`
}

// TaskProgress tracks a task through the five completion stages.
type TaskProgress struct {
	TaskID            string                 `json:"task_id"`
	SessionID         string                 `json:"session_id"`
	Stages            map[string]StageRecord `json:"stages"`
	OverallCompletion int                    `json:"overall_completion"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// DiaryEntry is a narrative audit record.
type DiaryEntry struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Diary entry kinds.
const (
	DiaryKindCycle         = "cycle"
	DiaryKindFinalization  = "task_finalization"
	DiaryKindConsolidation = "consolidation"
)

// Task is the task CRUD contract row. The engine creates and updates tasks
// only through the Store methods; display and richer task fields belong to
// the task subsystem.
type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// EngineTag marks tasks created by the autonomous engine.
const EngineTag = "mindloop"
