// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing transcripts, checkpoints and outbound
// delivery doubles. Not intended for production usage.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/dentaldesk/dentaldesk/core"
)

// EventBuilder provides a fluent helper for constructing transcript events in
// tests. Chain only the parts you need.
//
//	ev := NewEventBuilder().Author("Sia").AssistantText("hello").Build()
type EventBuilder struct {
	author        string
	id            string
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
}

// NewEventBuilder creates a builder with default author "assistant".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "assistant"} }

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// ID overrides the auto-generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// UserText appends a user text part and sets role to user (chainable).
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = "user"
	b.textParts = append(b.textParts, t)
	return b
}

// AssistantText appends an assistant text part and sets role to assistant (chainable).
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = "assistant"
	b.textParts = append(b.textParts, t)
	return b
}

// FunctionCall adds a tool request part with the given id, name and JSON
// argument string (chainable).
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.role = "assistant"
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a tool result part (chainable).
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	b.role = "tool"
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.author)
	if b.id != "" {
		ev.ID = b.id
	}

	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}
	if len(parts) > 0 {
		role := b.role
		if role == "" {
			role = "assistant"
		}
		ev.Content = &core.Content{Role: role, Parts: parts}
	}
	return ev
}

// CheckpointBuilder helps construct per-conversation checkpoints.
//
//	cp := NewCheckpointBuilder(42).Patient(p).Events(ev1, ev2).Build()
type CheckpointBuilder struct {
	conversationID int64
	patient        *core.Patient
	events         []core.Event
}

// NewCheckpointBuilder creates a builder for the given conversation.
func NewCheckpointBuilder(conversationID int64) *CheckpointBuilder {
	return &CheckpointBuilder{conversationID: conversationID}
}

// Patient sets the patient attached to the checkpoint (chainable).
func (b *CheckpointBuilder) Patient(p *core.Patient) *CheckpointBuilder {
	b.patient = p
	return b
}

// Events appends transcript events (chainable).
func (b *CheckpointBuilder) Events(evs ...core.Event) *CheckpointBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns the populated checkpoint.
func (b *CheckpointBuilder) Build() *core.Checkpoint {
	cp := core.NewCheckpoint(b.conversationID, b.patient)
	cp.Append(b.events...)
	return cp
}

// RecordingSender is a core.Sender double that captures outbound messages.
type RecordingSender struct {
	mu   sync.Mutex
	sent []SentMessage
	fail bool
}

// SentMessage is one captured delivery.
type SentMessage struct {
	Phone string
	Text  string
}

// NewRecordingSender creates an empty recorder.
func NewRecordingSender() *RecordingSender { return &RecordingSender{} }

// FailNext makes subsequent Send calls return an error.
func (s *RecordingSender) FailNext(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Send implements core.Sender.
func (s *RecordingSender) Send(_ context.Context, phone, text string) (*core.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("delivery failed")
	}
	s.sent = append(s.sent, SentMessage{Phone: phone, Text: text})
	return &core.DeliveryReceipt{MessageID: core.NewID()}, nil
}

// Sent returns a copy of the captured messages.
func (s *RecordingSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
