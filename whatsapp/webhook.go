package whatsapp

import (
	"encoding/json"
	"errors"
)

// Webhook payload shapes for the subset of the Cloud API events the engine
// consumes: inbound text messages and delivery status updates.

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

type Message struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *Text  `json:"text"`
}

type Text struct {
	Body string `json:"body"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Parse errors. ErrNotAMessage covers structurally valid events that simply
// carry no inbound message (e.g. group notifications); handlers acknowledge
// those without enqueueing work.
var (
	ErrInvalidPayload     = errors.New("whatsapp: invalid webhook payload")
	ErrNotAMessage        = errors.New("whatsapp: event carries no message")
	ErrUnsupportedMessage = errors.New("whatsapp: unsupported message type")
)

// ParsePayload decodes a webhook body.
func ParsePayload(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.Object == "" || len(p.Entry) == 0 {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// IsStatusUpdate reports whether the event is a delivery status notification.
func (p *WebhookPayload) IsStatusUpdate() bool {
	v := p.firstValue()
	return v != nil && len(v.Statuses) > 0
}

// StatusUpdate returns the first status in the event.
func (p *WebhookPayload) StatusUpdate() (*Status, bool) {
	v := p.firstValue()
	if v == nil || len(v.Statuses) == 0 {
		return nil, false
	}
	return &v.Statuses[0], true
}

// TextMessage extracts the sender phone number and text body of the event's
// first message.
func (p *WebhookPayload) TextMessage() (phone, text string, err error) {
	v := p.firstValue()
	if v == nil || len(v.Messages) == 0 {
		return "", "", ErrNotAMessage
	}
	msg := v.Messages[0]
	if msg.Type != "text" || msg.Text == nil {
		return "", "", ErrUnsupportedMessage
	}
	return msg.From, msg.Text.Body, nil
}

func (p *WebhookPayload) firstValue() *Value {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil
	}
	return &p.Entry[0].Changes[0].Value
}

// VerifyHandshake implements the Cloud API GET verification: given the
// hub.mode, hub.verify_token and hub.challenge query parameters, it returns
// the challenge to echo back, or false when verification fails.
func VerifyHandshake(mode, token, challenge, expectedToken string) (string, bool) {
	if mode == "" || token == "" || challenge == "" {
		return "", false
	}
	if mode != "subscribe" || token != expectedToken {
		return "", false
	}
	return challenge, true
}
