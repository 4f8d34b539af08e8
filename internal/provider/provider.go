// Package provider implements the analysis provider and the LLM client it runs on.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// AnalysisProvider produces per-item analysis results and group journals.
type AnalysisProvider interface {
	// Analyze runs one analysis kind over an item payload.
	Analyze(ctx context.Context, kind string, payload Payload) (json.RawMessage, error)
	// Synthesize merges a corpus into the previous journal, which may be nil.
	Synthesize(ctx context.Context, corpus string, previous json.RawMessage) (json.RawMessage, error)
}

// Payload is the item content handed to Analyze.
type Payload struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
}

// LLMProvider is the interface for chat completion clients.
type LLMProvider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
	// JSONMode asks the backend for a single JSON object.
	JSONMode bool
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Error reports a provider call that failed after all attempts.
type Error struct {
	Kind     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
