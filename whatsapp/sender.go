// Package whatsapp integrates with the Meta WhatsApp Cloud API: an outbound
// core.Sender over the Graph API and parsing helpers for inbound webhook
// payloads.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/logging"
)

// SenderConfig carries the Graph API credentials for outbound messages.
type SenderConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	// BaseURL overrides the Graph API endpoint, used by tests.
	BaseURL string
}

// Sender delivers text messages through the WhatsApp Cloud API.
type Sender struct {
	cfg    SenderConfig
	client *http.Client
	logger logging.Logger
}

var _ core.Sender = (*Sender)(nil)

// NewSender creates a Graph API sender. A nil logger silences it.
func NewSender(cfg SenderConfig, logger logging.Logger) *Sender {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type outboundText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             outboundText `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send implements core.Sender by POSTing a text message to the Graph API.
func (s *Sender) Send(ctx context.Context, phone, text string) (*core.DeliveryReceipt, error) {
	payload, err := json.Marshal(outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             outboundText{PreviewURL: false, Body: text},
	})
	if err != nil {
		return nil, fmt.Errorf("whatsapp: encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", s.cfg.BaseURL, s.cfg.APIVersion, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: sending message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("whatsapp send failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("whatsapp: send failed with status %d", resp.StatusCode)
	}

	var parsed sendResponse
	receipt := &core.DeliveryReceipt{}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Messages) > 0 {
		receipt.MessageID = parsed.Messages[0].ID
	}
	s.logger.Debug("whatsapp message sent", "to", phone, "message_id", receipt.MessageID)
	return receipt, nil
}
