// Package model defines the Policy Engine boundary: the planner that, given a
// conversation transcript and the tool catalog, decides on either a final
// text reply or one or more tool invocation requests. Provider adapters live
// in sub-packages (openai, anthropic); the engine depends only on the Model
// interface so no specific vendor is baked in.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/dentaldesk/dentaldesk/core"
)

// ToolDefinition declaratively exposes a callable function to the planner.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// planner. Parameters is a JSON Schema object (minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request captures the normalized planner input produced by the engine.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt including patient context
	Contents     []core.Content   `json:"contents"`     // Ordered transcript converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by the planner. The engine
// consumes responses non-streaming and acts on the final chunk only.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a planner implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the engine to drive planning.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight scripted Model for tests and the console
// example. Turns are consumed in order: each Generate call emits the next
// scripted turn, so a tool-call turn followed by a text turn exercises the
// full PLAN -> TOOLS -> PLAN cycle. Safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	turns    []Response
	requests []Request
	calls    int
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// AddTextTurn scripts a final text reply.
func (m *MockModel) AddTextTurn(text string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, Response{
		Content:      core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}},
		FinishReason: "stop",
	})
	return m
}

// AddToolCallTurn scripts a turn requesting the given tool invocations.
func (m *MockModel) AddToolCallTurn(calls ...core.FunctionCall) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	m.turns = append(m.turns, Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: "tool_calls",
	})
	return m
}

// AddErrorTurn scripts a provider failure for the next call.
func (m *MockModel) AddErrorTurn() *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, Response{FinishReason: "error"})
	return m
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests Generate received, in order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model; emits the next scripted turn.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	var turn Response
	hasTurn := len(m.turns) > 0
	if hasTurn {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if !hasTurn {
			errCh <- fmt.Errorf("mock model: no scripted turns left")
			return
		}
		if turn.FinishReason == "error" {
			errCh <- fmt.Errorf("mock model: scripted provider failure")
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- turn:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
