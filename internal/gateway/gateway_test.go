package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mindloop/mindloop/internal/bus"
	"github.com/mindloop/mindloop/internal/config"
	"github.com/mindloop/mindloop/internal/engine"
	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

type scriptedGen struct {
	mu        sync.Mutex
	responses []string
	errAt     int
	calls     int
}

func (g *scriptedGen) Generate(_ context.Context, _ *provider.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.errAt > 0 && g.calls == g.errAt {
		return "", errors.New("synthesis failed")
	}
	if g.calls <= len(g.responses) {
		return g.responses[g.calls-1], nil
	}
	return "steady text", nil
}

func (g *scriptedGen) DefaultModel() string { return "scripted" }

type fakeResearcher struct{}

func (fakeResearcher) Search(_ context.Context, query string) (*provider.ResearchResult, error) {
	return &provider.ResearchResult{Query: query, Summary: "about " + query}, nil
}

func cycleScript() []string {
	return []string{
		"frame", "reframe", "meta", "recursive", "closure",
		`["one topic"]`,
		`{"tasks": ["first task"], "kb_entries": ["first concept"]}`,
	}
}

func newTestServer(t *testing.T, gen provider.Generator) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := engine.New(engine.Options{
		Store:      st,
		Generator:  gen,
		Researcher: fakeResearcher{},
		Bus:        bus.NewMessageBus(),
		Config:     config.DefaultConfig().Engine,
	})
	t.Cleanup(e.StopAll)

	srv := httptest.NewServer(New(e, st, config.DefaultConfig().Gateway, "default").Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCycleEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGen{responses: cycleScript()})

	resp := postJSON(t, srv.URL+"/api/cycle", `{"session_id": "s1", "trigger": "why?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var report engine.CycleReport
	decodeBody(t, resp, &report)
	if report.Trigger != "why?" {
		t.Fatalf("trigger = %q", report.Trigger)
	}
	if len(report.TasksCreated) != 1 {
		t.Fatalf("tasks created = %v", report.TasksCreated)
	}
}

func TestCycleEndpointPipelineFailure(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGen{errAt: 1})

	resp := postJSON(t, srv.URL+"/api/cycle", `{"session_id": "s1"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGen{responses: cycleScript()})

	resp, err := http.Get(srv.URL + "/api/status?session=s1")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status engine.Status
	decodeBody(t, resp, &status)
	if status.IsRunning {
		t.Fatal("fresh session reports running")
	}
	if status.ActiveQuestionCount == 0 {
		t.Fatal("expected seeded question pool")
	}
}

func TestLoopStartStopEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGen{responses: cycleScript()})

	resp := postJSON(t, srv.URL+"/api/loop/start", `{"session_id": "s1", "interval_minutes": 60}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/loop/stop", `{"session_id": "s1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/status?session=s1")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var status engine.Status
	decodeBody(t, resp, &status)
	if status.IsRunning {
		t.Fatal("still running after stop")
	}
}

func TestTaskStageAndDetailsEndpoints(t *testing.T) {
	srv, st := newTestServer(t, &scriptedGen{responses: cycleScript()})

	// Create the task through a manual cycle.
	resp := postJSON(t, srv.URL+"/api/cycle", `{"session_id": "s1", "trigger": "t"}`)
	var report engine.CycleReport
	decodeBody(t, resp, &report)
	if len(report.TasksCreated) != 1 {
		t.Fatalf("tasks created = %v", report.TasksCreated)
	}
	taskID := report.TasksCreated[0]

	resp = postJSON(t, srv.URL+"/api/tasks/"+taskID+"/stages", `{"stage": "research", "notes": "looked around"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stage status = %d", resp.StatusCode)
	}
	var progress store.TaskProgress
	decodeBody(t, resp, &progress)
	if progress.OverallCompletion != 20 {
		t.Fatalf("completion = %d, want 20", progress.OverallCompletion)
	}

	resp = postJSON(t, srv.URL+"/api/tasks/"+taskID+"/stages", `{"stage": "bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus stage status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/tasks/" + taskID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("details status = %d", resp.StatusCode)
	}
	var details map[string]any
	decodeBody(t, resp, &details)
	if details["overall_completion"].(float64) != 20 {
		t.Fatalf("details completion = %v", details["overall_completion"])
	}

	resp, err = http.Get(srv.URL + "/api/tasks/nope")
	if err != nil {
		t.Fatalf("GET missing task: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Focus endpoint appends a direction note.
	resp = postJSON(t, srv.URL+"/api/tasks/"+taskID+"/focus", `{"session_id": "s1", "instruction": "keep going"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("focus status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	task, err := st.GetTask(taskID)
	if err != nil || task == nil {
		t.Fatalf("GetTask: %v, %v", task, err)
	}
	if task.Notes == "" {
		t.Fatal("focus left no note")
	}
}

func TestKnowledgeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGen{responses: cycleScript()})

	resp := postJSON(t, srv.URL+"/api/knowledge", `{"session_id": "s1", "topic": "caching", "content": "notes on caching"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/knowledge", `{"session_id": "s1", "topic": ""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid create status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/knowledge?session=s1")
	if err != nil {
		t.Fatalf("GET knowledge: %v", err)
	}
	var entries []store.KnowledgeEntry
	decodeBody(t, listResp, &entries)
	if len(entries) != 1 || entries[0].Topic != "caching" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestQuestionEndpoints(t *testing.T) {
	gen := &scriptedGen{responses: []string{`["New variant one?", "New variant two?"]`}}
	srv, _ := newTestServer(t, gen)

	resp := postJSON(t, srv.URL+"/api/questions/evolve", `{"session_id": "s1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evolve status = %d", resp.StatusCode)
	}
	var evolved map[string]any
	decodeBody(t, resp, &evolved)
	if evolved["active_questions"].(float64) != 12 {
		t.Fatalf("active after evolve = %v, want 12", evolved["active_questions"])
	}

	listResp, err := http.Get(srv.URL + "/api/questions?session=s1")
	if err != nil {
		t.Fatalf("GET questions: %v", err)
	}
	var questions []store.SelfQuestion
	decodeBody(t, listResp, &questions)
	if len(questions) != 12 {
		t.Fatalf("questions = %d, want 12", len(questions))
	}
}
