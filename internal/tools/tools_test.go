package tools

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/publish"
	"github.com/mindloop/mindloop/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeResearcher struct {
	result *provider.ResearchResult
	err    error
}

func (f *fakeResearcher) Search(_ context.Context, query string) (*provider.ResearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Query = query
	return &r, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	artifacts []*publish.Artifact
}

func (r *recordingPublisher) Name() string { return "recording" }

func (r *recordingPublisher) Publish(_ context.Context, a *publish.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, a)
	return nil
}

type focusRecorder struct {
	taskID string
	err    error
}

func (f *focusRecorder) FocusOnTask(_ context.Context, _, taskID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.taskID = taskID
	return nil
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry()
	reg.Register(NewKnowledgeWriteTool("s1", st))
	reg.Register(NewDiaryWriteTool("s1", st))

	if _, ok := reg.Get("knowledge_write"); !ok {
		t.Fatal("knowledge_write not registered")
	}
	if got := len(reg.List()); got != 2 {
		t.Fatalf("List() = %d tools, want 2", got)
	}

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "knowledge_write" || defs[1].Name != "diary_write" {
		t.Fatalf("Definitions() = %+v, want registration order", defs)
	}

	if _, err := reg.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestResearchToolStoresFindings(t *testing.T) {
	st := newTestStore(t)
	tool := NewResearchTool("s1", st, &fakeResearcher{result: &provider.ResearchResult{
		Summary:  "Generics reduce duplication.",
		Insights: []string{"type parameters"},
	}})

	out, err := tool.Execute(context.Background(), map[string]any{"query": "go generics"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == "" {
		t.Fatal("empty result")
	}

	entries, err := st.ListKnowledgeEntries("s1", 10)
	if err != nil {
		t.Fatalf("ListKnowledgeEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Source != store.SourceResearch || entries[0].Topic != "go generics" {
		t.Fatalf("entries = %+v, want one research entry for the query", entries)
	}
}

func TestResearchToolRequiresQuery(t *testing.T) {
	st := newTestStore(t)
	tool := NewResearchTool("s1", st, &fakeResearcher{err: errors.New("unused")})
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestKnowledgeAndDiaryWrite(t *testing.T) {
	st := newTestStore(t)

	kw := NewKnowledgeWriteTool("s1", st)
	if _, err := kw.Execute(context.Background(), map[string]any{
		"topic": "caching", "content": "Prefer read-through caches here.",
	}); err != nil {
		t.Fatalf("knowledge_write: %v", err)
	}
	entries, _ := st.ListKnowledgeEntries("s1", 10)
	if len(entries) != 1 || entries[0].Source != store.SourceSynthesis {
		t.Fatalf("entries = %+v, want one synthesis entry", entries)
	}

	dw := NewDiaryWriteTool("s1", st)
	if _, err := dw.Execute(context.Background(), map[string]any{
		"title": "Morning", "content": "Explored caching strategies.",
	}); err != nil {
		t.Fatalf("diary_write: %v", err)
	}
	diary, _ := st.ListDiaryEntries("s1", 10)
	if len(diary) != 1 || diary[0].Title != "Morning" {
		t.Fatalf("diary = %+v, want one entry", diary)
	}

	if _, err := kw.Execute(context.Background(), map[string]any{"topic": "x"}); err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestPublishTool(t *testing.T) {
	rec := &recordingPublisher{}
	tool := NewPublishTool("s1", publish.NewFanout(rec))

	if _, err := tool.Execute(context.Background(), map[string]any{
		"title": "Notes", "content": "A cycle summary.",
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.artifacts) != 1 || rec.artifacts[0].Title != "Notes" {
		t.Fatalf("artifacts = %+v, want one", rec.artifacts)
	}
	if rec.artifacts[0].Kind != publish.KindCycleReport {
		t.Fatalf("kind = %q, want cycle_report", rec.artifacts[0].Kind)
	}
}

func TestFocusTool(t *testing.T) {
	rec := &focusRecorder{}
	tool := NewFocusTool("s1", rec)

	if _, err := tool.Execute(context.Background(), map[string]any{"task_id": "t-42"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.taskID != "t-42" {
		t.Fatalf("focused task = %q, want t-42", rec.taskID)
	}

	rec.err = errors.New("no such task")
	if _, err := tool.Execute(context.Background(), map[string]any{"task_id": "t-43"}); err == nil {
		t.Fatal("expected focus error to propagate")
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{"s": "v", "n": float64(7), "i": 3}
	if got := GetString(params, "s", "d"); got != "v" {
		t.Fatalf("GetString = %q", got)
	}
	if got := GetString(params, "missing", "d"); got != "d" {
		t.Fatalf("GetString default = %q", got)
	}
	if got := GetInt(params, "n", 0); got != 7 {
		t.Fatalf("GetInt float64 = %d", got)
	}
	if got := GetInt(params, "i", 0); got != 3 {
		t.Fatalf("GetInt int = %d", got)
	}
	if got := GetInt(params, "missing", 9); got != 9 {
		t.Fatalf("GetInt default = %d", got)
	}
}
