package core

import "time"

// Checkpoint is the transient per-conversation working state: the typed
// transcript plus auxiliary fields used to resume a turn without re-reading
// the full durable log. It is a derived, rebuildable cache; the durable
// message log stays authoritative and a lost checkpoint is recovered through
// rehydration.
//
// A Checkpoint is owned exclusively by the holder of its CheckpointStore
// lease, so it carries no internal locking.
type Checkpoint struct {
	ConversationID  int64     `json:"conversation_id"`
	Patient         *Patient  `json:"patient,omitempty"`
	Transcript      []Event   `json:"transcript"`
	LastInteraction time.Time `json:"last_interaction"`
}

// NewCheckpoint creates an empty checkpoint for a conversation.
func NewCheckpoint(conversationID int64, patient *Patient) *Checkpoint {
	return &Checkpoint{ConversationID: conversationID, Patient: patient}
}

// Append adds events to the transcript preserving order.
func (c *Checkpoint) Append(evs ...Event) {
	c.Transcript = append(c.Transcript, evs...)
}

// Empty reports whether the checkpoint holds no transcript. An empty
// checkpoint triggers rehydration from the durable log.
func (c *Checkpoint) Empty() bool {
	return c == nil || len(c.Transcript) == 0
}

// Contents returns the ordered role-based contents of the transcript,
// filtered to the conversational roles the planner understands.
func (c *Checkpoint) Contents() []Content {
	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}
	res := make([]Content, 0, len(c.Transcript))
	for _, ev := range c.Transcript {
		if ev.Content == nil || !allowed[ev.Content.Role] {
			continue
		}
		res = append(res, *ev.Content)
	}
	return res
}

// Clone returns a deep-enough copy safe for independent mutation. Events are
// immutable after emission, so copying the slice suffices.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := &Checkpoint{
		ConversationID:  c.ConversationID,
		LastInteraction: c.LastInteraction,
		Transcript:      make([]Event, len(c.Transcript)),
	}
	copy(clone.Transcript, c.Transcript)
	if c.Patient != nil {
		p := *c.Patient
		clone.Patient = &p
	}
	return clone
}

// Lease is exclusive access to one conversation's checkpoint slot. Holding a
// lease blocks both the worker and the timeout sweep from touching the same
// key, which is what prevents a sweep eviction racing a turn in flight.
// Callers must Release when done.
type Lease interface {
	// Get returns the checkpoint held in the slot, or nil if absent.
	Get() *Checkpoint

	// Put stores a checkpoint in the slot.
	Put(cp *Checkpoint)

	// Evict removes the checkpoint and marks the slot for removal from the
	// store once the lease is released.
	Evict()

	// Release gives up exclusive access. Release is idempotent.
	Release()
}

// CheckpointStore maps conversation ids to checkpoint slots with per-key
// mutual exclusion. Implementations must allow List to proceed while
// individual slots are leased.
type CheckpointStore interface {
	// Acquire blocks until exclusive access to the slot for conversationID is
	// available and returns the lease.
	Acquire(conversationID int64) Lease

	// List returns a snapshot of conversation ids currently present.
	List() []int64
}
