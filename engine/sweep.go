package engine

import (
	"context"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
)

// SweepIdle runs one timeout sweep cycle over the live checkpoints. For each
// tracked conversation it acquires the lease, so a turn in flight for the
// same conversation finishes first and refreshes its interaction time before
// the idle check sees it.
//
// Empty slots are evicted unconditionally. Idle conversations are closed in
// the store with reason timed_out, unless something already closed them, and
// then evicted. The caller schedules the cycles.
func (e *Engine) SweepIdle(ctx context.Context) {
	logger := e.logger.WithComponent("sweep")
	ids := e.opts.Checkpoints.List()
	if len(ids) == 0 {
		logger.Debug("no live conversations to sweep")
		return
	}
	logger.Debug("sweep cycle starting", "candidates", len(ids))

	now := time.Now().UTC()
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		lease := e.opts.Checkpoints.Acquire(id)
		cp := lease.Get()

		if cp.Empty() {
			logger.Info("evicting lingering empty checkpoint", "conversation_id", id)
			lease.Evict()
			lease.Release()
			continue
		}

		if now.Sub(cp.LastInteraction) <= e.opts.IdleTimeout {
			lease.Release()
			continue
		}

		// Re-check durable status under the lease; the planner may have
		// closed the conversation on its final turn.
		conv, err := e.opts.Store.GetConversation(ctx, id)
		switch {
		case err != nil:
			logger.Error("sweep failed to load conversation", "conversation_id", id, "error", err.Error())
			lease.Release()
			continue
		case conv.Status == core.ConversationOpen:
			if err := e.opts.Store.CloseConversation(ctx, id, core.CloseReasonTimedOut); err != nil {
				logger.Error("sweep failed to close conversation", "conversation_id", id, "error", err.Error())
				lease.Release()
				continue
			}
			logger.Info("closed idle conversation", "conversation_id", id,
				"idle", now.Sub(cp.LastInteraction).String())
		default:
			logger.Debug("conversation already closed, evicting checkpoint only", "conversation_id", id)
		}

		lease.Evict()
		lease.Release()
	}
}
