package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var kindPrompts = map[string]string{
	"insights": `Extract the key insights from the item below.
Respond with a JSON object: {"points": ["..."]}. Use at most 5 short points.`,
	"themes": `Identify the recurring themes of the item below.
Respond with a JSON object: {"themes": ["..."]}. Use short noun phrases.`,
	"sentiment": `Classify the overall sentiment of the item below.
Respond with a JSON object: {"label": "positive|neutral|negative|mixed", "score": -1.0..1.0}.`,
}

const genericKindPrompt = `Analyze the item below for the aspect %q.
Respond with a single JSON object describing your findings.`

const synthesisPrompt = `You maintain a cumulative journal for a group of items.
Merge the new material into the previous journal (if any) instead of starting over.
Respond with exactly one JSON object with these keys:
  "summary": string, "themes": [string], "highlights": [string], "mood": string,
  "open_questions": [string], "item_count": integer, "generated_at": RFC3339 string.`

// LLMAnalysis implements AnalysisProvider on top of a chat completion client.
type LLMAnalysis struct {
	llm         LLMProvider
	model       string
	maxTokens   int
	temperature float64
}

// NewLLMAnalysis creates an AnalysisProvider backed by llm.
func NewLLMAnalysis(llm LLMProvider, model string, maxTokens int, temperature float64) *LLMAnalysis {
	return &LLMAnalysis{llm: llm, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Analyze asks the model for one analysis kind and returns its JSON object.
func (a *LLMAnalysis) Analyze(ctx context.Context, kind string, payload Payload) (json.RawMessage, error) {
	prompt, ok := kindPrompts[kind]
	if !ok {
		prompt = fmt.Sprintf(genericKindPrompt, kind)
	}
	var user strings.Builder
	if payload.Title != "" {
		fmt.Fprintf(&user, "Title: %s\n\n", payload.Title)
	}
	user.WriteString(payload.Text)

	return a.complete(ctx, prompt, user.String())
}

// Synthesize produces a new journal from the corpus and the previous journal.
func (a *LLMAnalysis) Synthesize(ctx context.Context, corpus string, previous json.RawMessage) (json.RawMessage, error) {
	var user strings.Builder
	if len(previous) > 0 {
		user.WriteString("Previous journal:\n")
		user.Write(previous)
		user.WriteString("\n\n")
	} else {
		user.WriteString("Previous journal: none\n\n")
	}
	user.WriteString("Items:\n")
	user.WriteString(corpus)

	return a.complete(ctx, synthesisPrompt, user.String())
}

func (a *LLMAnalysis) complete(ctx context.Context, system, user string) (json.RawMessage, error) {
	resp, err := a.llm.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSONObject(resp.Content)
	if err != nil {
		slog.Debug("Provider returned non-JSON content", "finish", resp.FinishReason, "len", len(resp.Content))
		return nil, err
	}
	return raw, nil
}

// ExtractJSONObject returns the first JSON object in s. Markdown code fences
// and leading prose are tolerated.
func ExtractJSONObject(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errors.New("no JSON object in model output")
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	return raw, nil
}
