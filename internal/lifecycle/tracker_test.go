package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

type fakeGen struct {
	text  string
	err   error
	calls int
}

func (g *fakeGen) Generate(ctx context.Context, req *provider.GenerateRequest) (string, error) {
	g.calls++
	return g.text, g.err
}

func (g *fakeGen) DefaultModel() string { return "fake" }

func testTracker(t *testing.T, gen provider.Generator, limit int) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "lifecycle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, gen, limit), st
}

func createTask(t *testing.T, st *store.Store, title string) *store.Task {
	t.Helper()
	task := &store.Task{ID: uuid.NewString(), SessionID: "sess", Title: title, Tags: []string{store.EngineTag}}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestInitialize(t *testing.T) {
	tr, _ := testTracker(t, &fakeGen{text: "x"}, 0)
	tp, err := tr.Initialize(context.Background(), "sess", "task-1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(tp.Stages) != 5 || tp.OverallCompletion != 0 {
		t.Errorf("unexpected fresh progress: %+v", tp)
	}
	for _, s := range StageOrder {
		if tp.Stages[s].Completed {
			t.Errorf("stage %s should start incomplete", s)
		}
	}
}

func TestInitializeDoesNotResetProgress(t *testing.T) {
	tr, _ := testTracker(t, &fakeGen{text: "x"}, 0)
	ctx := context.Background()
	if _, err := tr.Initialize(ctx, "sess", "task-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.CompleteStage(ctx, "task-1", StageResearch, "found things", ""); err != nil {
		t.Fatal(err)
	}

	tp, err := tr.Initialize(ctx, "sess", "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if tp.OverallCompletion != 20 || !tp.Stages[StageResearch].Completed {
		t.Errorf("re-initialize reset progress: %+v", tp)
	}
}

func TestCompleteStageIdempotent(t *testing.T) {
	tr, _ := testTracker(t, &fakeGen{text: "x"}, 0)
	ctx := context.Background()

	tp, err := tr.CompleteStage(ctx, "task-1", StageResearch, "first", "")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if tp.OverallCompletion != 20 {
		t.Fatalf("expected 20%%, got %d", tp.OverallCompletion)
	}
	firstCompleted := tp.Stages[StageResearch].CompletedAt

	tp, err = tr.CompleteStage(ctx, "task-1", StageResearch, "updated notes", "new thinking")
	if err != nil {
		t.Fatal(err)
	}
	if tp.OverallCompletion != 20 {
		t.Errorf("idempotency violated: completion %d after repeat", tp.OverallCompletion)
	}
	rec := tp.Stages[StageResearch]
	if rec.Notes != "updated notes" || rec.Thinking != "new thinking" {
		t.Errorf("repeat call should update notes/thinking: %+v", rec)
	}
	if rec.CompletedAt == nil || firstCompleted == nil || !rec.CompletedAt.Equal(*firstCompleted) {
		t.Errorf("repeat call should not re-stamp completion: %v vs %v", rec.CompletedAt, firstCompleted)
	}
}

func TestCompleteStageUnknownStage(t *testing.T) {
	tr, _ := testTracker(t, &fakeGen{text: "x"}, 0)
	if _, err := tr.CompleteStage(context.Background(), "task-1", "shipping", "", ""); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestCompleteStageAutoInitializes(t *testing.T) {
	gen := &fakeGen{text: "x"}
	tr, st := testTracker(t, gen, 0)
	task := createTask(t, st, "auto")

	tp, err := tr.CompleteStage(context.Background(), task.ID, StagePlanning, "plan", "")
	if err != nil {
		t.Fatalf("CompleteStage on unknown task: %v", err)
	}
	if tp.SessionID != "sess" {
		t.Errorf("auto-init should pick up the task session, got %q", tp.SessionID)
	}
	if tp.OverallCompletion != 20 {
		t.Errorf("expected 20%%, got %d", tp.OverallCompletion)
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	gen := &fakeGen{text: "synthesized"}
	tr, st := testTracker(t, gen, 0)
	ctx := context.Background()
	task := createTask(t, st, "write report")
	if _, err := tr.Initialize(ctx, "sess", task.ID); err != nil {
		t.Fatal(err)
	}

	for _, stage := range []string{StageResearch, StagePlanning, StageExecution, StageKnowledge} {
		if _, err := tr.CompleteStage(ctx, task.ID, stage, stage+" done", ""); err != nil {
			t.Fatal(err)
		}
	}
	tp, _ := st.GetTaskProgress(task.ID)
	if tp.OverallCompletion != 80 {
		t.Fatalf("expected 80%% after four stages, got %d", tp.OverallCompletion)
	}

	tp, err := tr.CompleteStage(ctx, task.ID, StagePublication, "published", "")
	if err != nil {
		t.Fatal(err)
	}
	if tp.OverallCompletion != 100 {
		t.Fatalf("expected 100%%, got %d", tp.OverallCompletion)
	}

	entries, _ := st.ListKnowledgeEntries("sess", 0)
	if len(entries) != 1 || entries[0].Source != store.SourceFinalization {
		t.Errorf("expected exactly one finalization knowledge entry, got %+v", entries)
	}
	diary, _ := st.ListDiaryEntries("sess", 0)
	if len(diary) != 1 || diary[0].Kind != store.DiaryKindFinalization {
		t.Errorf("expected exactly one finalization diary entry, got %+v", diary)
	}
	got, _ := st.GetTask(task.ID)
	if got.Status != store.TaskStatusDone {
		t.Errorf("expected terminal done status, got %s", got.Status)
	}
	if !strings.Contains(got.Notes, StagePublication) {
		t.Errorf("expected ordered stage note, got %q", got.Notes)
	}
}

func TestFinalizeFiresExactlyOnce(t *testing.T) {
	gen := &fakeGen{text: "synthesized"}
	tr, st := testTracker(t, gen, 0)
	ctx := context.Background()
	task := createTask(t, st, "once")

	for _, stage := range StageOrder {
		if _, err := tr.CompleteStage(ctx, task.ID, stage, "done", ""); err != nil {
			t.Fatal(err)
		}
	}
	// Repeated post-completion publication calls must not re-finalize.
	for i := 0; i < 3; i++ {
		if _, err := tr.CompleteStage(ctx, task.ID, StagePublication, fmt.Sprintf("repeat %d", i), ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := st.ListKnowledgeEntries("sess", 0)
	if len(entries) != 1 {
		t.Errorf("finalize fired %d times, want 1", len(entries))
	}
	diary, _ := st.ListDiaryEntries("sess", 0)
	if len(diary) != 1 {
		t.Errorf("expected 1 diary entry, got %d", len(diary))
	}
}

// slowGen stalls in Generate so overlapping finalizations stay in flight
// long enough to collide.
type slowGen struct {
	delay time.Duration
	mu    sync.Mutex
	calls int
}

func (g *slowGen) Generate(ctx context.Context, req *provider.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	time.Sleep(g.delay)
	return "synthesized", nil
}

func (g *slowGen) DefaultModel() string { return "fake" }

func TestConcurrentFinalStageFinalizesOnce(t *testing.T) {
	gen := &slowGen{delay: 30 * time.Millisecond}
	tr, st := testTracker(t, gen, 0)
	ctx := context.Background()
	task := createTask(t, st, "contested")

	for _, stage := range StageOrder[:len(StageOrder)-1] {
		if _, err := tr.CompleteStage(ctx, task.ID, stage, "done", ""); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := tr.CompleteStage(ctx, task.ID, StagePublication, fmt.Sprintf("publish %d", n), ""); err != nil {
				t.Errorf("CompleteStage: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, _ := st.ListKnowledgeEntries("sess", 0)
	if len(entries) != 1 {
		t.Errorf("finalize fired %d times, want 1", len(entries))
	}
	diary, _ := st.ListDiaryEntries("sess", 0)
	if len(diary) != 1 {
		t.Errorf("expected 1 diary entry, got %d", len(diary))
	}
	got, _ := st.GetTask(task.ID)
	if got.Status != store.TaskStatusDone {
		t.Errorf("task status = %s, want %s", got.Status, store.TaskStatusDone)
	}
}

func TestConcurrentStageCompletionsAllLand(t *testing.T) {
	tr, st := testTracker(t, &fakeGen{text: "synthesized"}, 0)
	ctx := context.Background()
	task := createTask(t, st, "parallel")

	var wg sync.WaitGroup
	for _, stage := range StageOrder[:len(StageOrder)-1] {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			if _, err := tr.CompleteStage(ctx, task.ID, s, "done", ""); err != nil {
				t.Errorf("CompleteStage(%s): %v", s, err)
			}
		}(stage)
	}
	wg.Wait()

	tp, err := st.GetTaskProgress(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tp.OverallCompletion != 80 {
		t.Errorf("completion = %d, want 80", tp.OverallCompletion)
	}
	for _, s := range StageOrder[:len(StageOrder)-1] {
		if !tp.Stages[s].Completed {
			t.Errorf("stage %s update lost", s)
		}
	}
}

func TestFinalizeSynthesisFailureUsesTemplate(t *testing.T) {
	gen := &fakeGen{err: errors.New("model down")}
	tr, st := testTracker(t, gen, 0)
	ctx := context.Background()
	task := createTask(t, st, "resilient")

	for _, stage := range StageOrder {
		if _, err := tr.CompleteStage(ctx, task.ID, stage, "done", ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := st.ListKnowledgeEntries("sess", 0)
	if len(entries) != 1 || !strings.Contains(entries[0].Content, "resilient") {
		t.Errorf("expected templated knowledge fallback, got %+v", entries)
	}
	diary, _ := st.ListDiaryEntries("sess", 0)
	if len(diary) != 1 || !strings.Contains(diary[0].Content, "resilient") {
		t.Errorf("expected templated diary fallback, got %+v", diary)
	}
	got, _ := st.GetTask(task.ID)
	if got.Status != store.TaskStatusDone {
		t.Errorf("finalize must complete despite synthesis failure, status %s", got.Status)
	}
}

func TestShouldBlockCreation(t *testing.T) {
	tr, st := testTracker(t, &fakeGen{text: "x"}, 5)
	ctx := context.Background()

	adm, err := tr.ShouldBlockCreation(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if adm.Blocked || adm.IncompleteTasks != 0 {
		t.Errorf("fresh session should not block: %+v", adm)
	}

	for i := 0; i < 5; i++ {
		task := createTask(t, st, fmt.Sprintf("t%d", i))
		if _, err := tr.Initialize(ctx, "sess", task.ID); err != nil {
			t.Fatal(err)
		}
	}

	adm, err = tr.ShouldBlockCreation(ctx, "sess")
	if err != nil {
		t.Fatal(err)
	}
	if !adm.Blocked || adm.IncompleteTasks != 5 {
		t.Errorf("expected blocked with 5 incomplete, got %+v", adm)
	}
	if adm.Reason == "" {
		t.Error("blocked admission should carry a reason")
	}
}
