package core

import "context"

// DeliveryReceipt is returned by the outbound channel on a successful send.
type DeliveryReceipt struct {
	MessageID string `json:"message_id"`
}

// Sender is the outbound channel boundary: one Send per processed turn,
// attributed to the conversation's patient contact handle.
type Sender interface {
	Send(ctx context.Context, phone, text string) (*DeliveryReceipt, error)
}
