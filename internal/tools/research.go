package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

// ResearchTool runs a provider-backed web/knowledge search and records the
// findings as a knowledge entry.
type ResearchTool struct {
	sessionID  string
	store      *store.Store
	researcher provider.Researcher
}

// NewResearchTool creates the research tool for a session.
func NewResearchTool(sessionID string, st *store.Store, r provider.Researcher) *ResearchTool {
	return &ResearchTool{sessionID: sessionID, store: st, researcher: r}
}

func (t *ResearchTool) Name() string { return "research" }

func (t *ResearchTool) Description() string {
	return "Research a topic. Returns a summary with key insights and stores the findings in the knowledge base."
}

func (t *ResearchTool) Parameters() map[string]any {
	return stringSchema(map[string]string{
		"query": "The topic or question to research",
	}, "query")
}

func (t *ResearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "", fmt.Errorf("research: query is required")
	}
	result, err := t.researcher.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("research %q: %w", query, err)
	}
	entry := &store.KnowledgeEntry{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Timestamp: time.Now(),
		Source:    store.SourceResearch,
		Topic:     query,
		Content:   result.Summary,
		Tags:      append([]string{store.EngineTag}, result.Insights...),
	}
	if err := t.store.InsertKnowledgeEntry(entry); err != nil {
		return "", fmt.Errorf("store research findings: %w", err)
	}
	out := result.Summary
	if len(result.Insights) > 0 {
		out += "\nKey insights: " + strings.Join(result.Insights, "; ")
	}
	return out, nil
}
