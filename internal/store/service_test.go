package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuestionRoundTrip(t *testing.T) {
	s := testStore(t)
	q := &SelfQuestion{
		ID:            uuid.NewString(),
		SessionID:     "sess",
		Text:          "What am I avoiding?",
		Category:      "reflection",
		Effectiveness: 5,
	}
	if err := s.InsertQuestion(q); err != nil {
		t.Fatalf("insert: %v", err)
	}

	list, err := s.ListQuestions("sess", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Text != q.Text {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].LastUsed != nil {
		t.Error("expected nil lastUsed for fresh question")
	}

	if err := s.RecordQuestionUse(q.ID, time.Now()); err != nil {
		t.Fatalf("record use: %v", err)
	}
	list, _ = s.ListQuestions("sess", false)
	if list[0].UseCount != 1 || list[0].LastUsed == nil {
		t.Errorf("expected useCount 1 and lastUsed set, got %+v", list[0])
	}
}

func TestRetireQuestionIsSoftDelete(t *testing.T) {
	s := testStore(t)
	q := &SelfQuestion{ID: uuid.NewString(), SessionID: "sess", Text: "q", Effectiveness: 5}
	if err := s.InsertQuestion(q); err != nil {
		t.Fatal(err)
	}
	if err := s.RetireQuestion(q.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	active, _ := s.ListQuestions("sess", false)
	if len(active) != 0 {
		t.Errorf("expected no active questions, got %d", len(active))
	}
	all, _ := s.ListQuestions("sess", true)
	if len(all) != 1 || !all[0].Retired() {
		t.Errorf("expected 1 retired question kept, got %+v", all)
	}
	if n, _ := s.CountActiveQuestions("sess"); n != 0 {
		t.Errorf("expected 0 active, got %d", n)
	}
}

func TestLensSessionRoundTrip(t *testing.T) {
	s := testStore(t)
	ls := &LensSession{
		ID:                uuid.NewString(),
		SessionID:         "sess",
		Trigger:           "why",
		FrameStep:         "f",
		ReframeStep:       "r",
		MetaLensStep:      "m",
		RecursiveStep:     "rec",
		ClosureStep:       "c",
		GeneratedTasks:    []string{"t1"},
		GeneratedKB:       []string{"k1", "k2"},
		GeneratedResearch: []string{"q1"},
		CompletedAt:       time.Now(),
	}
	if err := s.SaveLensSession(ls); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetLensSession(ls.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Trigger != "why" || len(got.GeneratedKB) != 2 {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.StepTexts()[3] != "rec" {
		t.Errorf("step order wrong: %v", got.StepTexts())
	}
}

func TestKnowledgeEntries(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		e := &KnowledgeEntry{
			ID:        uuid.NewString(),
			SessionID: "sess",
			Source:    SourceResearch,
			Topic:     "topic",
			Content:   "content",
			Tags:      []string{"research"},
		}
		if err := s.InsertKnowledgeEntry(e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	n, err := s.CountKnowledgeEntries("sess")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
	list, err := s.ListKnowledgeEntries("sess", 2)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %d entries, err = %v", len(list), err)
	}
	if list[0].Tags[0] != "research" {
		t.Errorf("tags lost: %+v", list[0])
	}
}

func TestTaskProgressUpsert(t *testing.T) {
	s := testStore(t)
	tp := &TaskProgress{
		TaskID:    "task-1",
		SessionID: "sess",
		Stages: map[string]StageRecord{
			"research": {Stage: "research", Completed: true, Notes: "done"},
		},
		OverallCompletion: 20,
	}
	if err := s.SaveTaskProgress(tp); err != nil {
		t.Fatalf("save: %v", err)
	}
	tp.OverallCompletion = 40
	if err := s.SaveTaskProgress(tp); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetTaskProgress("task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OverallCompletion != 40 {
		t.Errorf("expected 40, got %d", got.OverallCompletion)
	}
	if !got.Stages["research"].Completed {
		t.Error("stage record lost on upsert")
	}

	if n, _ := s.CountIncompleteProgress("sess"); n != 1 {
		t.Errorf("expected 1 incomplete, got %d", n)
	}
	tp.OverallCompletion = 100
	_ = s.SaveTaskProgress(tp)
	if n, _ := s.CountIncompleteProgress("sess"); n != 0 {
		t.Errorf("expected 0 incomplete after 100%%, got %d", n)
	}
}

func TestGetTaskProgressAbsent(t *testing.T) {
	s := testStore(t)
	got, err := s.GetTaskProgress("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent progress, got %+v", got)
	}
}

func TestTaskCRUD(t *testing.T) {
	s := testStore(t)
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: "sess",
		Title:     "read paper",
		Tags:      []string{EngineTag},
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending default, got %s", task.Status)
	}

	if err := s.AppendTaskNote(task.ID, "first note"); err != nil {
		t.Fatalf("append note: %v", err)
	}
	if err := s.AppendTaskNote(task.ID, "second note"); err != nil {
		t.Fatalf("append note: %v", err)
	}
	if err := s.UpdateTaskStatus(task.ID, TaskStatusDone); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != TaskStatusDone || got.CompletedAt == nil {
		t.Errorf("expected done with completion stamp, got %+v", got)
	}
	if got.Notes != "first note\nsecond note" {
		t.Errorf("unexpected notes: %q", got.Notes)
	}

	done, _ := s.ListTasks("sess", TaskStatusDone, 0)
	if len(done) != 1 {
		t.Errorf("expected 1 done task, got %d", len(done))
	}
}

func TestDiaryEntries(t *testing.T) {
	s := testStore(t)
	d := &DiaryEntry{
		ID:        uuid.NewString(),
		SessionID: "sess",
		Kind:      DiaryKindCycle,
		Title:     "cycle summary",
		Content:   "today I explored",
		Metadata:  map[string]string{"tasks": "2"},
	}
	if err := s.InsertDiaryEntry(d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	list, err := s.ListDiaryEntries("sess", 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d, err = %v", len(list), err)
	}
	if list[0].Metadata["tasks"] != "2" {
		t.Errorf("metadata lost: %+v", list[0])
	}
}

func TestSettings(t *testing.T) {
	s := testStore(t)

	if _, ok, err := s.GetSetting("sess", "last_cycle_at"); err != nil || ok {
		t.Fatalf("absent key: ok = %v, err = %v", ok, err)
	}
	if err := s.SetSetting("sess", "last_cycle_at", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting("sess", "last_cycle_at", "2026-02-02T00:00:00Z"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.GetSetting("sess", "last_cycle_at")
	if err != nil || !ok {
		t.Fatalf("get: ok = %v, err = %v", ok, err)
	}
	if v != "2026-02-02T00:00:00Z" {
		t.Errorf("value = %q, want the overwritten one", v)
	}

	// Keys are session-scoped.
	if _, ok, _ := s.GetSetting("other", "last_cycle_at"); ok {
		t.Error("key leaked across sessions")
	}
}
