package engine

import (
	"encoding/json"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/logging"
)

// toolResultPayload is the durable wire form of a tool_result log entry.
type toolResultPayload struct {
	Content    any    `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

// Rehydrate rebuilds a typed transcript from the durable message log, in log
// order. Malformed entries are logged and skipped rather than failing the
// whole conversation; the planner copes with a gap better than the engine
// copes with a poisoned conversation.
func Rehydrate(messages []core.Message, assistantName string, logger logging.Logger) []core.Event {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	events := make([]core.Event, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case core.SenderUser:
			events = append(events, core.NewUserMessageEvent(msg.Payload))

		case core.SenderAgentText:
			events = append(events, core.NewAssistantMessageEvent(assistantName, msg.Payload))

		case core.SenderAgentToolRequest:
			var calls []core.FunctionCall
			if err := json.Unmarshal([]byte(msg.Payload), &calls); err != nil {
				logger.Warn("skipping malformed tool request entry",
					"message_id", msg.ID, "conversation_id", msg.ConversationID, "error", err.Error())
				continue
			}
			parts := make([]core.Part, 0, len(calls))
			for _, call := range calls {
				parts = append(parts, core.FunctionCallPart{FunctionCall: call})
			}
			events = append(events, core.NewAssistantEvent(assistantName, &core.Content{
				Role:  "assistant",
				Parts: parts,
			}))

		case core.SenderToolResult:
			var payload toolResultPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				logger.Warn("skipping malformed tool result entry",
					"message_id", msg.ID, "conversation_id", msg.ConversationID, "error", err.Error())
				continue
			}
			events = append(events, core.NewFunctionResponseEvent(
				assistantName, payload.ToolCallID, "", payload.Content, nil))

		default:
			logger.Warn("skipping log entry with unknown sender kind",
				"message_id", msg.ID, "sender", string(msg.Sender))
		}
	}
	return events
}
