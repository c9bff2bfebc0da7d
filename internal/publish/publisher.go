// Package publish delivers derived content artifacts (consolidation and
// publication outputs) to configured destinations.
package publish

import (
	"context"
	"log/slog"
	"time"
)

// Artifact is a derived content item ready for publication.
type Artifact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact kinds.
const (
	KindConsolidation = "consolidation"
	KindCycleReport   = "cycle_report"
)

// Publisher delivers one artifact to a destination.
type Publisher interface {
	// Name identifies the destination for logs.
	Name() string
	// Publish delivers the artifact.
	Publish(ctx context.Context, a *Artifact) error
}

// Fanout publishes to every destination, isolating per-destination failures.
type Fanout struct {
	publishers []Publisher
}

// NewFanout creates a fan-out over the given publishers.
func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

// Add appends a publisher.
func (f *Fanout) Add(p Publisher) { f.publishers = append(f.publishers, p) }

// Publish delivers the artifact to all destinations. A failing destination
// is logged and skipped; the others still receive the artifact.
func (f *Fanout) Publish(ctx context.Context, a *Artifact) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, a); err != nil {
			slog.Warn("Artifact publish failed", "destination", p.Name(), "artifact", a.ID, "error", err)
		}
	}
}

// LogPublisher records artifacts in the structured log. Always available.
type LogPublisher struct{}

// Name implements Publisher.
func (LogPublisher) Name() string { return "log" }

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, a *Artifact) error {
	slog.Info("Artifact published", "kind", a.Kind, "session", a.SessionID, "title", a.Title)
	return nil
}
