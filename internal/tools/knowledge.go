package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/store"
)

// KnowledgeWriteTool appends an entry to the knowledge base.
type KnowledgeWriteTool struct {
	sessionID string
	store     *store.Store
}

// NewKnowledgeWriteTool creates the knowledge write tool for a session.
func NewKnowledgeWriteTool(sessionID string, st *store.Store) *KnowledgeWriteTool {
	return &KnowledgeWriteTool{sessionID: sessionID, store: st}
}

func (t *KnowledgeWriteTool) Name() string { return "knowledge_write" }

func (t *KnowledgeWriteTool) Description() string {
	return "Record an insight or conclusion in the knowledge base."
}

func (t *KnowledgeWriteTool) Parameters() map[string]any {
	return stringSchema(map[string]string{
		"topic":   "Short topic the insight belongs to",
		"content": "The insight to record",
	}, "topic", "content")
}

func (t *KnowledgeWriteTool) Execute(_ context.Context, params map[string]any) (string, error) {
	topic := GetString(params, "topic", "")
	content := GetString(params, "content", "")
	if topic == "" || content == "" {
		return "", fmt.Errorf("knowledge_write: topic and content are required")
	}
	entry := &store.KnowledgeEntry{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Timestamp: time.Now(),
		Source:    store.SourceSynthesis,
		Topic:     topic,
		Content:   content,
		Tags:      []string{store.EngineTag},
	}
	if err := t.store.InsertKnowledgeEntry(entry); err != nil {
		return "", fmt.Errorf("knowledge_write: %w", err)
	}
	return "Recorded knowledge entry " + entry.ID, nil
}

// DiaryWriteTool appends a narrative diary entry.
type DiaryWriteTool struct {
	sessionID string
	store     *store.Store
}

// NewDiaryWriteTool creates the diary write tool for a session.
func NewDiaryWriteTool(sessionID string, st *store.Store) *DiaryWriteTool {
	return &DiaryWriteTool{sessionID: sessionID, store: st}
}

func (t *DiaryWriteTool) Name() string { return "diary_write" }

func (t *DiaryWriteTool) Description() string {
	return "Write a first-person diary entry reflecting on recent activity."
}

func (t *DiaryWriteTool) Parameters() map[string]any {
	return stringSchema(map[string]string{
		"title":   "Short title for the entry",
		"content": "The diary entry text",
	}, "title", "content")
}

func (t *DiaryWriteTool) Execute(_ context.Context, params map[string]any) (string, error) {
	title := GetString(params, "title", "")
	content := GetString(params, "content", "")
	if title == "" || content == "" {
		return "", fmt.Errorf("diary_write: title and content are required")
	}
	entry := &store.DiaryEntry{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Timestamp: time.Now(),
		Kind:      store.DiaryKindCycle,
		Title:     title,
		Content:   content,
	}
	if err := t.store.InsertDiaryEntry(entry); err != nil {
		return "", fmt.Errorf("diary_write: %w", err)
	}
	return "Recorded diary entry " + entry.ID, nil
}
