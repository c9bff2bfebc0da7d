package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Generator, Researcher and ToolChooser using an
// OpenAI-compatible chat completions API. It works with OpenRouter, OpenAI,
// and other compatible endpoints.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string, maxTokens int, temperature float64) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		temperature:  temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// DefaultModel returns the configured default model.
func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

// Generate sends a completion request and returns the assistant text.
func (p *OpenAIProvider) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	messages := []map[string]any{}
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	resp, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// researchSystem instructs the model to answer as a research service with a
// strict JSON contract so Search can parse the result.
const researchSystem = `You are a research service. Answer the query with a JSON object:
{"summary": "...", "insights": ["..."], "results": [{"title": "...", "url": "...", "snippet": "..."}]}
Return only JSON.`

// Search runs a research query through the model and parses the structured result.
func (p *OpenAIProvider) Search(ctx context.Context, query string) (*ResearchResult, error) {
	text, err := p.Generate(ctx, &GenerateRequest{
		System: researchSystem,
		Prompt: query,
	})
	if err != nil {
		return nil, fmt.Errorf("research query: %w", err)
	}
	out := &ResearchResult{Query: query}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
		// Unstructured answer is still usable as a summary.
		out.Summary = text
	}
	out.Query = query
	return out, nil
}

// ChooseTool asks the model to pick exactly one tool via function calling.
func (p *OpenAIProvider) ChooseTool(ctx context.Context, objective string, tools []ToolDefinition) (*ToolChoice, error) {
	defs := make([]map[string]any, len(tools))
	for i, t := range tools {
		defs[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		}
	}

	body := map[string]any{
		"model": p.defaultModel,
		"messages": []map[string]any{
			{"role": "system", "content": "Select the single most useful tool for the objective. Call exactly one tool."},
			{"role": "user", "content": objective},
		},
		"max_tokens":  p.maxTokens,
		"tools":       defs,
		"tool_choice": "required",
	}

	resp, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("model did not select a tool")
	}
	tc := choice.Message.ToolCalls[0]
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{"raw": tc.Function.Arguments}
		}
	}
	return &ToolChoice{
		Name:      tc.Function.Name,
		Arguments: args,
		Rationale: choice.Message.Content,
	}, nil
}

// post executes a chat completions request and decodes the response.
func (p *OpenAIProvider) post(ctx context.Context, body map[string]any) (*openAIResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &apiResp, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// OpenAI API response types.
type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}
