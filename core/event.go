package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a single typed entry of an in-memory transcript. Events mirror the
// four durable sender kinds: a user text, an assistant text reply, an
// assistant tool request and a tool result. After emission an Event should be
// treated as immutable.
//
// Content may carry multiple parts; an assistant Event that requested tools
// has one FunctionCallPart per requested invocation.
type Event struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"` // "user", assistant name, or tool name
	Timestamp time.Time `json:"timestamp"`
	Content   *Content  `json:"content,omitempty"`
}

// NewEvent creates a bare event authored by 'author'.
// Prefer the helper constructors for the common semantic categories.
func NewEvent(author string) Event {
	return Event{
		ID:        NewID(),
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(text string) Event {
	e := NewEvent("user")
	e.Content = &Content{Role: "user", Parts: []Part{TextPart{Text: text}}}
	return e
}

// NewAssistantMessageEvent creates an assistant text reply event.
func NewAssistantMessageEvent(author, text string) Event {
	e := NewEvent(author)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: text}}}
	return e
}

// NewAssistantEvent creates an assistant-authored event with arbitrary
// Content, used when the planner's reply mixes text and tool requests.
func NewAssistantEvent(author string, content *Content) Event {
	e := NewEvent(author)
	e.Content = content
	return e
}

// NewFunctionResponseEvent records the completion result (or error) of a tool
// invocation. If err is non-nil its message is copied into the response Error
// field so the planner sees the failure as data.
func NewFunctionResponseEvent(author, id, functionName string, result interface{}, err error) Event {
	e := NewEvent(author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewID generates a new unique identifier for events and tool calls.
func NewID() string { return uuid.NewString() }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within
// the event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Text concatenates the text parts of the event content.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range e.Content.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// IsFinalReply reports whether this event is a plain assistant text reply
// with no pending tool calls or responses, i.e. it terminates the planning
// loop for the current turn.
func (e Event) IsFinalReply() bool {
	return e.Content != nil &&
		e.Content.Role == "assistant" &&
		len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0
}
