package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dentaldesk/dentaldesk/checkpoint"
	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/logging"
	"github.com/dentaldesk/dentaldesk/model"
	"github.com/dentaldesk/dentaldesk/tool"
)

const (
	// DefaultMaxToolRounds bounds the plan/execute cycles within one turn.
	// A turn that exceeds it is aborted without a reply.
	DefaultMaxToolRounds = 8
	// DefaultIdleTimeout is how long a conversation may sit without a turn
	// before the sweep closes it.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultAssistantName labels assistant-authored transcript events.
	DefaultAssistantName = "assistant"
)

// Options configure an Engine. Model, Store and Sender are required; the rest
// default sensibly.
type Options struct {
	Model  model.Model
	Store  core.Store
	Sender core.Sender

	// Tools is the registry the planner's tool calls dispatch through. An
	// engine without tools still answers, it just cannot act.
	Tools *tool.Registry

	// Checkpoints holds per-conversation working state. Defaults to an
	// in-memory store.
	Checkpoints core.CheckpointStore

	// Instructions builds the per-turn system prompt. Defaults to empty
	// instructions.
	Instructions func(patient *core.Patient, conversationID int64) string

	// AssistantName labels assistant events in transcripts.
	AssistantName string

	MaxToolRounds int
	IdleTimeout   time.Duration

	Logger *logging.DeskLogger

	// DeadLetter, when set, receives items whose turn failed permanently.
	// The failed turn is otherwise logged and dropped; the user's message is
	// already durable by then.
	DeadLetter func(item core.QueueItem, err error)
}

// Engine owns the inbound queue, the single worker, and the per-conversation
// turn state machine.
type Engine struct {
	opts   Options
	queue  *Queue
	logger *logging.DeskLogger
}

// New creates an Engine. It returns an error when a required dependency is
// missing.
func New(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("engine: Model is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: Store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("engine: Sender is required")
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewInMemoryStore()
	}
	if opts.Instructions == nil {
		opts.Instructions = func(*core.Patient, int64) string { return "" }
	}
	if opts.AssistantName == "" {
		opts.AssistantName = DefaultAssistantName
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.DefaultLoggerConfig())
	}

	return &Engine{
		opts:   opts,
		queue:  NewQueue(),
		logger: opts.Logger.WithComponent("engine"),
	}, nil
}

// QueueLen reports the number of pending inbound items.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// HandleInbound is the intake path called from the webhook handler: it finds
// or creates the patient for the phone number, finds or creates their open
// conversation, and enqueues the message for the worker. It returns quickly;
// the turn itself runs asynchronously.
func (e *Engine) HandleInbound(ctx context.Context, phone, text string) (*core.Conversation, error) {
	patient, err := e.opts.Store.GetPatientByPhone(ctx, phone)
	if errors.Is(err, core.ErrNotFound) {
		patient, err = e.opts.Store.CreatePatient(ctx, &core.Patient{
			Name:        core.PlaceholderPatientName,
			PhoneNumber: phone,
		})
		if err == nil {
			e.logger.Info("registered new patient", "patient_id", patient.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolving patient: %w", err)
	}

	conv, err := e.opts.Store.GetOpenConversation(ctx, patient.ID)
	if errors.Is(err, core.ErrNotFound) {
		conv, err = e.opts.Store.CreateConversation(ctx, patient.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	e.queue.Enqueue(core.QueueItem{
		ConversationID: conv.ID,
		Patient:        patient,
		Text:           text,
		EnqueuedAt:     time.Now().UTC(),
	})
	e.logger.Debug("enqueued inbound message",
		"conversation_id", conv.ID, "patient_id", patient.ID, "queue_len", e.queue.Len())
	return conv, nil
}

// Run drains the queue until ctx is cancelled. It is the single worker: turns
// for all conversations execute here sequentially, which is what makes each
// turn atomic with respect to other turns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("worker started",
		"max_tool_rounds", e.opts.MaxToolRounds, "idle_timeout", e.opts.IdleTimeout.String())
	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			e.logger.Info("worker stopping", "reason", err.Error())
			return err
		}
		e.processItem(ctx, item)
	}
}

// processItem runs one turn. Failures are contained: they are logged, handed
// to the DeadLetter hook when configured, and never crash the worker.
func (e *Engine) processItem(ctx context.Context, item core.QueueItem) {
	turnID := core.NewID()
	logger := e.logger.WithConversation(item.ConversationID, turnID)
	start := time.Now()

	rounds, err := e.runTurn(ctx, item, logger)
	logger.LogTurn(item.ConversationID, rounds, time.Since(start), err == nil, err)
	if err != nil {
		if e.opts.DeadLetter != nil {
			e.opts.DeadLetter(item, err)
		}
	}
}

// runTurn executes the plan/execute cycle for one inbound message and returns
// the number of planner rounds used.
func (e *Engine) runTurn(ctx context.Context, item core.QueueItem, logger *logging.DeskLogger) (int, error) {
	lease := e.opts.Checkpoints.Acquire(item.ConversationID)
	defer lease.Release()

	cp := lease.Get()
	if cp.Empty() {
		history, err := e.opts.Store.ListMessages(ctx, item.ConversationID)
		if err != nil {
			return 0, fmt.Errorf("loading history: %w", err)
		}
		cp = core.NewCheckpoint(item.ConversationID, item.Patient)
		cp.Append(Rehydrate(history, e.opts.AssistantName, logger)...)
		if len(cp.Transcript) > 0 {
			logger.Info("rehydrated conversation from durable log", "events", len(cp.Transcript))
		}
	}
	if cp.Patient == nil {
		cp.Patient = item.Patient
	}

	// The inbound message becomes durable before any planning. If the turn
	// fails past this point the message is not lost, only unanswered.
	if _, err := e.opts.Store.AppendMessage(ctx, item.ConversationID, core.SenderUser, item.Text); err != nil {
		return 0, fmt.Errorf("persisting user message: %w", err)
	}
	cp.Append(core.NewUserMessageEvent(item.Text))

	reply := ""
	finalized := false
	rounds := 0
	for rounds < e.opts.MaxToolRounds {
		rounds++

		planned, err := e.plan(ctx, cp)
		if err != nil {
			e.finishTurn(ctx, lease, cp)
			return rounds, fmt.Errorf("planner round %d: %w", rounds, err)
		}

		event := core.NewAssistantEvent(e.opts.AssistantName, &planned)
		calls := event.GetFunctionCalls()
		if len(calls) == 0 {
			finalized = true
			reply = event.Text()
			if reply == "" {
				// Planner finished without a textual reply; nothing worth
				// persisting, the outbound fallback below takes over.
				break
			}
			if _, err := e.opts.Store.AppendMessage(ctx, item.ConversationID, core.SenderAgentText, reply); err != nil {
				e.finishTurn(ctx, lease, cp)
				return rounds, fmt.Errorf("persisting reply: %w", err)
			}
			cp.Append(event)
			break
		}

		payload, err := json.Marshal(calls)
		if err != nil {
			e.finishTurn(ctx, lease, cp)
			return rounds, fmt.Errorf("encoding tool request: %w", err)
		}
		if _, err := e.opts.Store.AppendMessage(ctx, item.ConversationID, core.SenderAgentToolRequest, string(payload)); err != nil {
			e.finishTurn(ctx, lease, cp)
			return rounds, fmt.Errorf("persisting tool request: %w", err)
		}
		cp.Append(event)

		for _, call := range calls {
			toolCtx := core.NewToolContext(ctx, call.ID, item.ConversationID, cp.Patient, logger)
			resp := e.opts.Tools.Execute(toolCtx, call)

			resultPayload, err := json.Marshal(toolResultPayload{
				Content:    renderResult(resp),
				ToolCallID: resp.ID,
			})
			if err != nil {
				e.finishTurn(ctx, lease, cp)
				return rounds, fmt.Errorf("encoding tool result: %w", err)
			}
			if _, err := e.opts.Store.AppendMessage(ctx, item.ConversationID, core.SenderToolResult, string(resultPayload)); err != nil {
				e.finishTurn(ctx, lease, cp)
				return rounds, fmt.Errorf("persisting tool result: %w", err)
			}

			resultEvent := core.NewFunctionResponseEvent(e.opts.AssistantName, resp.ID, resp.Name, resp.Response, nil)
			if resp.Error != "" {
				resultEvent = core.NewFunctionResponseEvent(e.opts.AssistantName, resp.ID, resp.Name, nil, errors.New(resp.Error))
			}
			cp.Append(resultEvent)
		}
	}

	if !finalized {
		// The planner was still requesting tools on its last allowed round.
		// Runaway loops are fatal for the turn: no reply goes out, the
		// failure is surfaced instead of guessed around.
		e.finishTurn(ctx, lease, cp)
		return rounds, fmt.Errorf("tool round limit reached after %d rounds without a final reply", rounds)
	}
	if reply == "" {
		reply = transcriptTail(cp)
		logger.Warn("planner finished without reply text, sending transcript tail")
	}

	e.finishTurn(ctx, lease, cp)

	if _, err := e.opts.Sender.Send(ctx, item.Patient.PhoneNumber, reply); err != nil {
		// The turn is durable either way; delivery is best effort.
		return rounds, fmt.Errorf("sending reply: %w", err)
	}
	return rounds, nil
}

// plan runs one model round over the checkpoint transcript.
func (e *Engine) plan(ctx context.Context, cp *core.Checkpoint) (core.Content, error) {
	req := model.Request{
		Instructions: e.opts.Instructions(cp.Patient, cp.ConversationID),
		Contents:     cp.Contents(),
		Tools:        e.opts.Tools.Definitions(),
	}

	respCh, errCh := e.opts.Model.Generate(ctx, req)
	select {
	case resp, ok := <-respCh:
		if !ok {
			if err := <-errCh; err != nil {
				return core.Content{}, err
			}
			return core.Content{}, errors.New("model produced no response")
		}
		return resp.Content, nil
	case err := <-errCh:
		if err != nil {
			return core.Content{}, err
		}
		resp, ok := <-respCh
		if !ok {
			return core.Content{}, errors.New("model produced no response")
		}
		return resp.Content, nil
	case <-ctx.Done():
		return core.Content{}, ctx.Err()
	}
}

// finishTurn stamps the interaction time, stores the checkpoint, and evicts
// it when the conversation was closed during the turn (the close_conversation
// tool or a concurrent sweep).
func (e *Engine) finishTurn(ctx context.Context, lease core.Lease, cp *core.Checkpoint) {
	cp.LastInteraction = time.Now().UTC()
	lease.Put(cp)

	conv, err := e.opts.Store.GetConversation(ctx, cp.ConversationID)
	switch {
	case err != nil:
		// Eviction is skipped; the sweep picks the checkpoint up later.
		e.logger.Error("failed to check conversation status after turn",
			"conversation_id", cp.ConversationID, "error", err.Error())
	case conv.Status == core.ConversationClosed:
		lease.Evict()
	}
}

// transcriptTail renders the textual content of the last transcript entry,
// whatever its kind. It is the outbound fallback for a turn that finished
// without an agent text reply.
func transcriptTail(cp *core.Checkpoint) string {
	if len(cp.Transcript) == 0 {
		return ""
	}
	ev := cp.Transcript[len(cp.Transcript)-1]
	if text := ev.Text(); text != "" {
		return text
	}
	if resps := ev.GetFunctionResponses(); len(resps) > 0 {
		if b, err := json.Marshal(resps[len(resps)-1].Response); err == nil {
			return string(b)
		}
	}
	return ""
}

// renderResult flattens a tool response into the durable content value. Tool
// errors are rendered as text so the planner sees them on rehydration too.
func renderResult(resp core.FunctionResponse) any {
	if resp.Error != "" {
		return "error: " + resp.Error
	}
	return resp.Response
}
