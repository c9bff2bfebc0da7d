// Package provider implements the external collaborator interfaces:
// text generation and research.
package provider

import (
	"context"
)

// Generator is the text-generation collaborator. Calls may fail or time out;
// callers treat both identically as synthesis failures.
type Generator interface {
	// Generate sends a prompt and returns the generated text.
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Researcher is the research collaborator.
type Researcher interface {
	// Search runs a research query and returns a structured result.
	Search(ctx context.Context, query string) (*ResearchResult, error)
}

// GenerateRequest contains the parameters for a generation request.
type GenerateRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ResearchResult is the structured output of a research query.
type ResearchResult struct {
	Query    string         `json:"query"`
	Summary  string         `json:"summary"`
	Insights []string       `json:"insights"`
	Results  []ResearchItem `json:"results"`
}

// ResearchItem is one source found during research.
type ResearchItem struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ToolChooser is an optional interface for providers that can pick one tool
// from a set of definitions. Used by the action loop.
type ToolChooser interface {
	// ChooseTool returns the name and arguments of the single tool to use next.
	ChooseTool(ctx context.Context, objective string, tools []ToolDefinition) (*ToolChoice, error)
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice is the model's selected tool and arguments.
type ToolChoice struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Rationale string         `json:"rationale,omitempty"`
}
