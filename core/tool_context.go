package core

import (
	"context"

	"github.com/dentaldesk/dentaldesk/logging"
)

// ToolContext is the scoped execution context handed to a tool invocation.
// It carries the ambient cancellation context, the tool call id pairing the
// invocation with its result, and the conversation/patient the turn belongs
// to so tools can act on "the current patient" without the planner spelling
// out identifiers.
type ToolContext struct {
	ctx            context.Context
	CallID         string
	ConversationID int64
	Patient        *Patient

	logger logging.Logger
}

// NewToolContext constructs a ToolContext. A nil logger is substituted with a
// NoOpLogger.
func NewToolContext(ctx context.Context, callID string, conversationID int64, patient *Patient, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{
		ctx:            ctx,
		CallID:         callID,
		ConversationID: conversationID,
		Patient:        patient,
		logger:         logger,
	}
}

// Context returns the ambient cancellation context.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// Logger returns the logger scoped to this invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// LogDebug logs a debug message.
func (tc *ToolContext) LogDebug(msg string, args ...any) { tc.logger.Debug(msg, args...) }

// LogInfo logs an info message.
func (tc *ToolContext) LogInfo(msg string, args ...any) { tc.logger.Info(msg, args...) }

// LogWarn logs a warning message.
func (tc *ToolContext) LogWarn(msg string, args ...any) { tc.logger.Warn(msg, args...) }

// LogError logs an error message.
func (tc *ToolContext) LogError(msg string, args ...any) { tc.logger.Error(msg, args...) }
