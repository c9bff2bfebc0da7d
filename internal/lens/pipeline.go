// Package lens implements the fixed five-step transformation pipeline that
// turns a trigger into structured reflection text plus derived work items.
package lens

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

// Step kinds, in pipeline order.
const (
	StepFrame     = "frame"
	StepReframe   = "reframe"
	StepMetaLens  = "meta_lens"
	StepRecursive = "recursive"
	StepClosure   = "closure"
)

// stepDef is one entry in the ordered pipeline fold: a kind plus the
// instruction for that step's cognitive function.
type stepDef struct {
	kind        string
	instruction string
}

// steps is the fixed pipeline. Order matters; each step sees the trigger and
// all previously computed step texts. No retries, no skipping, no branching.
var steps = []stepDef{
	{StepFrame, "Frame the trigger directly: what is actually being asked, in concrete terms?"},
	{StepReframe, "Invert the perspective: restate the situation from the opposite or an outsider's point of view."},
	{StepMetaLens, "Reflect at the meta level: what recurring patterns does this trigger and its framing reveal?"},
	{StepRecursive, "Generate deeper or novel questions that the reflection so far makes possible."},
	{StepClosure, "Close with a working hypothesis or a concrete next action."},
}

const stepSystem = `You are running one step of a structured reflection.
Respond with 2-3 sentences performing exactly the instruction given.
Do not repeat earlier steps; add the step's distinct contribution.`

// Outputs are the actionable items derived from a completed session.
type Outputs struct {
	Tasks     []string `json:"tasks"`
	KBEntries []string `json:"kb_entries"`
}

// Pipeline runs lens sessions against the text-generation collaborator and
// persists completed sessions.
type Pipeline struct {
	store *store.Store
	gen   provider.Generator
}

// New creates a pipeline.
func New(st *store.Store, gen provider.Generator) *Pipeline {
	return &Pipeline{store: st, gen: gen}
}

// buildStepPrompt assembles the request context for one step: the trigger
// plus every previously computed step text.
func buildStepPrompt(trigger string, def stepDef, prior []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\n", trigger)
	for i, text := range prior {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", steps[i].kind, text)
	}
	fmt.Fprintf(&b, "\nStep %q: %s", def.kind, def.instruction)
	return b.String()
}

// Process runs the five steps strictly in order, then derives research
// topics and actionable outputs, and persists the completed session once.
// Any step failure is fatal and returns an error; derivation failures are
// not (they yield empty lists).
func (p *Pipeline) Process(ctx context.Context, sessionID, trigger string) (*store.LensSession, error) {
	texts := make([]string, 0, len(steps))
	for _, def := range steps {
		text, err := p.gen.Generate(ctx, &provider.GenerateRequest{
			System: stepSystem,
			Prompt: buildStepPrompt(trigger, def, texts),
		})
		if err != nil {
			return nil, fmt.Errorf("lens step %s: %w", def.kind, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("lens step %s: empty synthesis", def.kind)
		}
		texts = append(texts, text)
	}

	session := &store.LensSession{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Trigger:       trigger,
		FrameStep:     texts[0],
		ReframeStep:   texts[1],
		MetaLensStep:  texts[2],
		RecursiveStep: texts[3],
		ClosureStep:   texts[4],
	}

	session.GeneratedResearch = p.ExtractResearchTopics(ctx, session.RecursiveStep)
	outputs := p.GenerateActionableOutputs(ctx, session)
	session.GeneratedTasks = outputs.Tasks
	session.GeneratedKB = outputs.KBEntries
	session.CompletedAt = time.Now()

	// One atomic write after all steps finished; a partial session is never
	// persisted as complete. Losing the write loses only this artifact.
	if err := p.store.SaveLensSession(session); err != nil {
		slog.Warn("Lens session persistence failed", "session", sessionID, "lens", session.ID, "error", err)
	}
	return session, nil
}

const extractSystem = `Given a reflection text, list up to 3 concrete, searchable research topics
derived from it. Return a JSON array of topic strings only.`

// ExtractResearchTopics derives at most 3 searchable topics from the
// recursive step text. Returns an empty slice on any failure.
func (p *Pipeline) ExtractResearchTopics(ctx context.Context, recursiveText string) []string {
	text, err := p.gen.Generate(ctx, &provider.GenerateRequest{
		System: extractSystem,
		Prompt: recursiveText,
	})
	if err != nil {
		slog.Warn("Research topic extraction failed", "error", err)
		return []string{}
	}
	topics := provider.ParseStringList(text, 3)
	if topics == nil {
		return []string{}
	}
	return topics
}

const outputsSystem = `Given a full reflection (five step texts and research topics), derive:
up to 3 short actionable task titles and up to 3 knowledge-base topic strings.
Return JSON: {"tasks": ["..."], "kb_entries": ["..."]}. Return only JSON.`

// GenerateActionableOutputs derives task titles and knowledge topics from the
// full session context. Returns empty lists on any failure.
func (p *Pipeline) GenerateActionableOutputs(ctx context.Context, session *store.LensSession) Outputs {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\n", session.Trigger)
	for i, text := range session.StepTexts() {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", steps[i].kind, text)
	}
	if len(session.GeneratedResearch) > 0 {
		fmt.Fprintf(&b, "\nResearch topics: %s\n", strings.Join(session.GeneratedResearch, "; "))
	}

	empty := Outputs{Tasks: []string{}, KBEntries: []string{}}
	text, err := p.gen.Generate(ctx, &provider.GenerateRequest{
		System: outputsSystem,
		Prompt: b.String(),
	})
	if err != nil {
		slog.Warn("Actionable output generation failed", "error", err)
		return empty
	}

	var out Outputs
	if err := provider.ParseJSON(text, &out); err != nil {
		slog.Warn("Actionable output parse failed", "error", err)
		return empty
	}
	if len(out.Tasks) > 3 {
		out.Tasks = out.Tasks[:3]
	}
	if len(out.KBEntries) > 3 {
		out.KBEntries = out.KBEntries[:3]
	}
	if out.Tasks == nil {
		out.Tasks = []string{}
	}
	if out.KBEntries == nil {
		out.KBEntries = []string{}
	}
	return out
}

// StepKinds returns the pipeline step kinds in order, for display.
func StepKinds() []string {
	kinds := make([]string, len(steps))
	for i, s := range steps {
		kinds[i] = s.kind
	}
	return kinds
}
