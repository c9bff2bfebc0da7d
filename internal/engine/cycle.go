package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/bus"
	"github.com/mindloop/mindloop/internal/lens"
	"github.com/mindloop/mindloop/internal/publish"
	"github.com/mindloop/mindloop/internal/store"
)

// CycleReport collects per-item results of one cycle so partial failures
// stay visible instead of being silently swallowed.
type CycleReport struct {
	SessionID       string    `json:"session_id"`
	Trigger         string    `json:"trigger"`
	LensSessionID   string    `json:"lens_session_id"`
	ResearchTopics  []string  `json:"research_topics"`
	ResearchFailed  []string  `json:"research_failed,omitempty"`
	TasksCreated    []string  `json:"tasks_created"`
	TasksBlocked    bool      `json:"tasks_blocked"`
	RefocusedTask   string    `json:"refocused_task,omitempty"`
	KnowledgeTopics []string  `json:"knowledge_topics"`
	KnowledgeFailed []string  `json:"knowledge_failed,omitempty"`
	Evolved         bool      `json:"evolved"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// cycle runs the full reflection cycle for one session. Cycles are
// serialized per session; a manual trigger waits for an in-flight scheduled
// cycle rather than interleaving with it. Only a pipeline failure aborts
// the cycle, every later step degrades per item.
func (e *Engine) cycle(ctx context.Context, s *session, trigger string) (*CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := &CycleReport{SessionID: s.id, StartedAt: time.Now()}

	if trigger == "" {
		q, ok, err := s.pool.GetRandom(ctx)
		switch {
		case err != nil:
			slog.Warn("Question pool unavailable, using fallback trigger", "session", s.id, "error", err)
			trigger = e.cfg.FallbackTrigger
		case ok:
			trigger = q.Text
		default:
			trigger = e.cfg.FallbackTrigger
		}
	}
	report.Trigger = trigger

	ls, err := e.pipeline.Process(ctx, s.id, trigger)
	if err != nil {
		return nil, fmt.Errorf("lens pipeline: %w", err)
	}
	report.LensSessionID = ls.ID

	e.runResearch(ctx, s.id, ls, report)
	e.admitTasks(ctx, s.id, ls, report)
	e.writeKnowledge(ctx, s.id, ls, report)
	e.writeDiary(s.id, ls, report)

	if e.randFloat() < e.cfg.EvolveProbability {
		if err := s.pool.Evolve(ctx); err != nil {
			slog.Warn("Question evolution failed", "session", s.id, "error", err)
		} else {
			report.Evolved = true
		}
	}

	report.FinishedAt = time.Now()
	if err := e.store.SetSetting(s.id, "last_cycle_at", report.FinishedAt.Format(time.RFC3339)); err != nil {
		slog.Warn("Cycle timestamp lost", "session", s.id, "error", err)
	}
	e.publishReport(ctx, report)
	return report, nil
}

// runResearch resolves up to the configured number of extracted topics and
// stores one knowledge entry per success. A failing topic is skipped.
func (e *Engine) runResearch(ctx context.Context, sessionID string, ls *store.LensSession, report *CycleReport) {
	limit := e.cfg.MaxResearchTopics
	if limit <= 0 {
		limit = 2
	}
	topics := ls.GeneratedResearch
	if len(topics) > limit {
		topics = topics[:limit]
	}
	for _, topic := range topics {
		result, err := e.researcher.Search(ctx, topic)
		if err != nil {
			slog.Warn("Research topic failed", "session", sessionID, "topic", topic, "error", err)
			report.ResearchFailed = append(report.ResearchFailed, topic)
			continue
		}
		entry := &store.KnowledgeEntry{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			LensSessionID: ls.ID,
			Timestamp:     time.Now(),
			Source:        store.SourceResearch,
			Topic:         topic,
			Content:       result.Summary,
			Tags:          append([]string{store.EngineTag}, result.Insights...),
		}
		if err := e.store.InsertKnowledgeEntry(entry); err != nil {
			slog.Warn("Research entry lost", "session", sessionID, "topic", topic, "error", err)
			report.ResearchFailed = append(report.ResearchFailed, topic)
			continue
		}
		report.ResearchTopics = append(report.ResearchTopics, topic)
	}
}

// admitTasks applies the admission gate: blocked sessions refocus one random
// incomplete task, open sessions create up to min(cap, limit-incomplete)
// tasks from the pipeline's output.
func (e *Engine) admitTasks(ctx context.Context, sessionID string, ls *store.LensSession, report *CycleReport) {
	admission, err := e.tracker.ShouldBlockCreation(ctx, sessionID)
	if err != nil {
		slog.Warn("Task admission check failed, skipping task creation", "session", sessionID, "error", err)
		return
	}

	if admission.Blocked {
		report.TasksBlocked = true
		slog.Info("Task creation blocked", "session", sessionID, "incomplete", admission.IncompleteTasks, "reason", admission.Reason)
		incomplete, err := e.store.ListIncompleteProgress(sessionID)
		if err != nil || len(incomplete) == 0 {
			if err != nil {
				slog.Warn("Cannot list incomplete tasks for refocus", "session", sessionID, "error", err)
			}
			return
		}
		target := incomplete[e.randIntn(len(incomplete))]
		if err := e.FocusOnTask(ctx, sessionID, target.TaskID, "Advance this task before taking on new work."); err != nil {
			slog.Warn("Refocus failed", "session", sessionID, "task", target.TaskID, "error", err)
			return
		}
		report.RefocusedTask = target.TaskID
		return
	}

	budget := e.cfg.MaxTasksPerCycle
	if budget <= 0 {
		budget = 2
	}
	if room := e.tracker.Limit() - admission.IncompleteTasks; room < budget {
		budget = room
	}
	for _, title := range ls.GeneratedTasks {
		if len(report.TasksCreated) >= budget {
			break
		}
		task := &store.Task{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Title:     title,
			Status:    store.TaskStatusPending,
			Tags:      []string{store.EngineTag},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := e.store.CreateTask(task); err != nil {
			slog.Warn("Task creation lost", "session", sessionID, "title", title, "error", err)
			continue
		}
		if _, err := e.tracker.Initialize(ctx, sessionID, task.ID); err != nil {
			slog.Warn("Task progress initialization lost", "session", sessionID, "task", task.ID, "error", err)
		}
		report.TasksCreated = append(report.TasksCreated, task.ID)
	}
}

// writeKnowledge persists one entry per generated knowledge topic,
// best-effort per item.
func (e *Engine) writeKnowledge(_ context.Context, sessionID string, ls *store.LensSession, report *CycleReport) {
	for _, topic := range ls.GeneratedKB {
		entry := &store.KnowledgeEntry{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			LensSessionID: ls.ID,
			Timestamp:     time.Now(),
			Source:        store.SourceSynthesis,
			Topic:         topic,
			Content:       fmt.Sprintf("Derived from reflection on: %s\nClosing hypothesis: %s", ls.Trigger, ls.ClosureStep),
			Tags:          []string{store.EngineTag},
		}
		if err := e.store.InsertKnowledgeEntry(entry); err != nil {
			slog.Warn("Knowledge topic lost", "session", sessionID, "topic", topic, "error", err)
			report.KnowledgeFailed = append(report.KnowledgeFailed, topic)
			continue
		}
		report.KnowledgeTopics = append(report.KnowledgeTopics, topic)
	}
}

// writeDiary records the cycle audit entry: trigger, the five step texts,
// and produced counts.
func (e *Engine) writeDiary(sessionID string, ls *store.LensSession, report *CycleReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\n\n", ls.Trigger)
	for i, kind := range lens.StepKinds() {
		fmt.Fprintf(&b, "%s: %s\n", kind, ls.StepTexts()[i])
	}
	fmt.Fprintf(&b, "\nProduced: %d tasks, %d knowledge entries, %d research items.",
		len(report.TasksCreated), len(report.KnowledgeTopics), len(report.ResearchTopics))

	entry := &store.DiaryEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now(),
		Kind:      store.DiaryKindCycle,
		Title:     "Cycle: " + ls.Trigger,
		Content:   b.String(),
		Metadata: map[string]string{
			"lens_session": ls.ID,
			"tasks":        strconv.Itoa(len(report.TasksCreated)),
			"knowledge":    strconv.Itoa(len(report.KnowledgeTopics)),
			"research":     strconv.Itoa(len(report.ResearchTopics)),
		},
	}
	if err := e.store.InsertDiaryEntry(entry); err != nil {
		slog.Warn("Cycle diary entry lost", "session", sessionID, "error", err)
	}
}

// publishReport emits the cycle report on the bus for subscribers and fans
// it out to the configured external destinations.
func (e *Engine) publishReport(ctx context.Context, report *CycleReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if e.bus != nil {
		e.bus.PublishEvent(&bus.Event{
			SessionID: report.SessionID,
			Kind:      bus.EventCycleReport,
			Content:   string(payload),
			Timestamp: report.FinishedAt,
		})
	}
	if e.fanout != nil {
		e.fanout.Publish(ctx, &publish.Artifact{
			ID:        uuid.NewString(),
			SessionID: report.SessionID,
			Kind:      publish.KindCycleReport,
			Title:     fmt.Sprintf("Cycle: %s", report.Trigger),
			Content:   string(payload),
			CreatedAt: report.FinishedAt,
		})
	}
}
