package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/publish"
)

// PublishTool sends a content artifact to the configured destinations.
type PublishTool struct {
	sessionID string
	fanout    *publish.Fanout
}

// NewPublishTool creates the publish tool for a session.
func NewPublishTool(sessionID string, fanout *publish.Fanout) *PublishTool {
	return &PublishTool{sessionID: sessionID, fanout: fanout}
}

func (t *PublishTool) Name() string { return "publish_content" }

func (t *PublishTool) Description() string {
	return "Publish a titled piece of content to the configured external destinations."
}

func (t *PublishTool) Parameters() map[string]any {
	return stringSchema(map[string]string{
		"title":   "Title of the content",
		"content": "The content body to publish",
	}, "title", "content")
}

func (t *PublishTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	title := GetString(params, "title", "")
	content := GetString(params, "content", "")
	if title == "" || content == "" {
		return "", fmt.Errorf("publish_content: title and content are required")
	}
	artifact := &publish.Artifact{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Kind:      publish.KindCycleReport,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now(),
	}
	t.fanout.Publish(ctx, artifact)
	return "Published " + artifact.ID, nil
}

// TaskFocuser selects a task as the current focus. Implemented by the engine.
type TaskFocuser interface {
	FocusOnTask(ctx context.Context, sessionID, taskID, instruction string) error
}

// FocusTool redirects the engine's attention to a specific incomplete task.
type FocusTool struct {
	sessionID string
	focuser   TaskFocuser
}

// NewFocusTool creates the task focus tool for a session.
func NewFocusTool(sessionID string, f TaskFocuser) *FocusTool {
	return &FocusTool{sessionID: sessionID, focuser: f}
}

func (t *FocusTool) Name() string { return "task_focus" }

func (t *FocusTool) Description() string {
	return "Focus on an existing incomplete task and advance it instead of starting new work."
}

func (t *FocusTool) Parameters() map[string]any {
	return stringSchema(map[string]string{
		"task_id":     "ID of the incomplete task to focus on",
		"instruction": "Optional instruction describing how to advance the task",
	}, "task_id")
}

func (t *FocusTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	taskID := GetString(params, "task_id", "")
	if taskID == "" {
		return "", fmt.Errorf("task_focus: task_id is required")
	}
	instruction := GetString(params, "instruction", "")
	if err := t.focuser.FocusOnTask(ctx, t.sessionID, taskID, instruction); err != nil {
		return "", fmt.Errorf("task_focus: %w", err)
	}
	return "Focused on task " + taskID, nil
}
