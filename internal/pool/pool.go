// Package pool implements the evolving self-question pool that seeds
// autonomous thinking cycles.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/store"
)

const (
	// minQuestionsForEvolve is the floor below which Evolve is a no-op.
	minQuestionsForEvolve = 5
	// maxActiveQuestions triggers trimming when exceeded.
	maxActiveQuestions = 20
	// trimTarget is the active count trimming works toward.
	trimTarget = 15
	// recencyBonusCapDays caps the days-since-last-use bonus.
	recencyBonusCapDays = 10
	// neverUsedDays is the assumed age for questions never selected.
	neverUsedDays = 30
	// defaultEffectiveness is assigned to seeded and evolved questions.
	defaultEffectiveness = 5
)

// defaultQuestions seed a fresh session's pool.
var defaultQuestions = []struct{ text, category string }{
	{"What am I currently avoiding, and why?", "avoidance"},
	{"Which of my recent assumptions deserves to be challenged?", "assumptions"},
	{"What pattern keeps repeating in my work lately?", "patterns"},
	{"What would I do differently if I started today's main task over?", "retrospective"},
	{"What small experiment could teach me the most right now?", "experimentation"},
	{"Which unfinished thread is quietly costing the most?", "prioritization"},
	{"What do I believe that the evidence no longer supports?", "beliefs"},
	{"Where am I optimizing a part at the expense of the whole?", "systems"},
	{"What question am I not asking because the answer might be inconvenient?", "blind-spots"},
	{"What did I learn this week that I have not yet applied?", "application"},
}

// Pool manages the self-question pool for one session. Selection is a
// mutating read, so all operations serialize on the pool mutex.
type Pool struct {
	sessionID string
	store     *store.Store
	gen       provider.Generator
	rnd       *rand.Rand
	mu        sync.Mutex
	seeded    bool
}

// New creates a pool for a session.
func New(sessionID string, st *store.Store, gen provider.Generator) *Pool {
	return &Pool{
		sessionID: sessionID,
		store:     st,
		gen:       gen,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ensureSeeded inserts the default questions on first access. Callers hold
// the pool lock.
func (p *Pool) ensureSeeded() error {
	if p.seeded {
		return nil
	}
	n, err := p.store.CountActiveQuestions(p.sessionID)
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if n == 0 {
		for _, d := range defaultQuestions {
			q := &store.SelfQuestion{
				ID:            uuid.NewString(),
				SessionID:     p.sessionID,
				Text:          d.text,
				Category:      d.category,
				Effectiveness: defaultEffectiveness,
				CreatedAt:     time.Now(),
			}
			if err := p.store.InsertQuestion(q); err != nil {
				return fmt.Errorf("seed question: %w", err)
			}
		}
		slog.Info("Seeded default self-questions", "session", p.sessionID, "count", len(defaultQuestions))
	}
	p.seeded = true
	return nil
}

// Weight computes the selection weight for a question at the given time.
// weight = effectiveness x min(daysSinceLastUsed, cap); never negative.
func Weight(q *store.SelfQuestion, now time.Time) float64 {
	days := float64(neverUsedDays)
	if q.LastUsed != nil {
		days = now.Sub(*q.LastUsed).Hours() / 24
	}
	if days > recencyBonusCapDays {
		days = recencyBonusCapDays
	}
	if days < 0 {
		days = 0
	}
	w := q.Effectiveness * days
	if w < 0 {
		return 0
	}
	return w
}

// GetRandom selects an active question by weighted roulette and records the
// use (useCount, lastUsed) in the same critical section. ok is false when
// the pool has no active questions.
func (p *Pool) GetRandom(ctx context.Context) (q *store.SelfQuestion, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSeeded(); err != nil {
		return nil, false, err
	}
	active, err := p.store.ListQuestions(p.sessionID, false)
	if err != nil {
		return nil, false, fmt.Errorf("list questions: %w", err)
	}
	if len(active) == 0 {
		return nil, false, nil
	}

	now := time.Now()
	total := 0.0
	weights := make([]float64, len(active))
	for i := range active {
		weights[i] = Weight(&active[i], now)
		total += weights[i]
	}

	idx := 0
	if total > 0 {
		r := p.rnd.Float64() * total
		acc := 0.0
		for i, w := range weights {
			acc += w
			if r < acc {
				idx = i
				break
			}
		}
	} else {
		// All weights zero: fall back to a uniform draw.
		idx = p.rnd.Intn(len(active))
	}

	selected := active[idx]
	if err := p.store.RecordQuestionUse(selected.ID, now); err != nil {
		return nil, false, fmt.Errorf("record use: %w", err)
	}
	selected.UseCount++
	selected.LastUsed = &now
	return &selected, true, nil
}

// CountActive returns the number of active questions, seeding first if needed.
func (p *Pool) CountActive(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureSeeded(); err != nil {
		return 0, err
	}
	return p.store.CountActiveQuestions(p.sessionID)
}

// List returns the pool contents.
func (p *Pool) List(ctx context.Context, includeRetired bool) ([]store.SelfQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureSeeded(); err != nil {
		return nil, err
	}
	return p.store.ListQuestions(p.sessionID, includeRetired)
}

// Retire soft-deletes a question by id.
func (p *Pool) Retire(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.RetireQuestion(id, time.Now())
}

const evolveSystem = `You evolve a pool of self-reflection questions. Given existing questions,
write 2-3 new variants that combine or extend them in a fresh direction.
Return a JSON array of question strings only.`

// Evolve synthesizes 2-3 new question variants and trims an oversized pool.
// A synthesis failure aborts with no mutation; the error is logged, not
// returned, because evolution is opportunistic.
func (p *Pool) Evolve(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSeeded(); err != nil {
		return err
	}
	active, err := p.store.ListQuestions(p.sessionID, false)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(active) < minQuestionsForEvolve {
		return nil
	}

	sample := active
	if len(sample) > minQuestionsForEvolve {
		sample = sample[len(sample)-minQuestionsForEvolve:]
	}
	prompt := "Existing questions:\n"
	for _, q := range sample {
		prompt += "- " + q.Text + "\n"
	}

	text, err := p.gen.Generate(ctx, &provider.GenerateRequest{System: evolveSystem, Prompt: prompt})
	if err != nil {
		slog.Warn("Question evolution synthesis failed", "session", p.sessionID, "error", err)
		return nil
	}
	variants := provider.ParseStringList(text, 3)
	if len(variants) < 2 {
		slog.Warn("Question evolution produced too few variants", "session", p.sessionID, "got", len(variants))
		return nil
	}

	for _, v := range variants {
		q := &store.SelfQuestion{
			ID:            uuid.NewString(),
			SessionID:     p.sessionID,
			Text:          v,
			Category:      "evolved",
			Effectiveness: defaultEffectiveness,
			CreatedAt:     time.Now(),
		}
		if err := p.store.InsertQuestion(q); err != nil {
			return fmt.Errorf("insert evolved question: %w", err)
		}
	}
	slog.Info("Evolved self-question pool", "session", p.sessionID, "added", len(variants))

	return p.trim()
}

// trim retires low-effectiveness, well-used questions when the active pool
// exceeds maxActiveQuestions, working toward trimTarget. Callers hold the
// pool lock.
func (p *Pool) trim() error {
	active, err := p.store.ListQuestions(p.sessionID, false)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(active) <= maxActiveQuestions {
		return nil
	}

	candidates := make([]store.SelfQuestion, 0, len(active))
	for _, q := range active {
		if q.UseCount > 3 {
			candidates = append(candidates, q)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Effectiveness < candidates[j].Effectiveness
	})

	remaining := len(active)
	retired := 0
	for _, q := range candidates {
		if remaining <= trimTarget {
			break
		}
		if err := p.store.RetireQuestion(q.ID, time.Now()); err != nil {
			return fmt.Errorf("retire question: %w", err)
		}
		remaining--
		retired++
	}
	if retired > 0 {
		slog.Info("Trimmed self-question pool", "session", p.sessionID, "retired", retired, "remaining", remaining)
	}
	return nil
}
