package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dentaldesk/dentaldesk/checkpoint"
	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/internal/testutil"
	"github.com/dentaldesk/dentaldesk/logging"
	"github.com/dentaldesk/dentaldesk/model"
	"github.com/dentaldesk/dentaldesk/store"
	"github.com/dentaldesk/dentaldesk/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	store       *store.MockStore
	sender      *testutil.RecordingSender
	model       *model.MockModel
	checkpoints *checkpoint.InMemoryStore
	engine      *Engine
	deadLetters []error
}

func newEngineFixture(t *testing.T, m *model.MockModel, tools ...tool.Tool) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:       store.NewMockStore(),
		sender:      testutil.NewRecordingSender(),
		model:       m,
		checkpoints: checkpoint.NewInMemoryStore(),
	}
	eng, err := New(Options{
		Model:         m,
		Store:         f.store,
		Sender:        f.sender,
		Tools:         tool.NewRegistry(tools...),
		Checkpoints:   f.checkpoints,
		AssistantName: "Sia",
		IdleTimeout:   30 * time.Minute,
		DeadLetter:    func(_ core.QueueItem, err error) { f.deadLetters = append(f.deadLetters, err) },
	})
	require.NoError(t, err)
	f.engine = eng
	return f
}

// turn feeds one inbound message through intake and runs the worker for it.
func (f *engineFixture) turn(t *testing.T, phone, text string) *core.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := f.engine.HandleInbound(ctx, phone, text)
	require.NoError(t, err)
	item, err := f.engine.queue.Dequeue(ctx)
	require.NoError(t, err)
	f.engine.processItem(ctx, item)
	return conv
}

func senderKinds(msgs []core.Message) []core.SenderKind {
	kinds := make([]core.SenderKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Sender
	}
	return kinds
}

func clockTool() tool.Tool {
	return tool.NewFunctionTool("get_current_time", "Returns the current time",
		map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return "2026-09-01T12:00:00Z", nil
		})
}

func TestTextOnlyTurn(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello! How can I help?")
	f := newEngineFixture(t, m)

	conv := f.turn(t, "15550001111", "hi")

	// First contact registers a placeholder patient.
	patient, err := f.store.GetPatientByPhone(context.Background(), "15550001111")
	require.NoError(t, err)
	assert.Equal(t, core.PlaceholderPatientName, patient.Name)

	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SenderKind{core.SenderUser, core.SenderAgentText}, senderKinds(msgs))
	assert.Equal(t, "hi", msgs[0].Payload)
	assert.Equal(t, "Hello! How can I help?", msgs[1].Payload)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "15550001111", sent[0].Phone)
	assert.Equal(t, "Hello! How can I help?", sent[0].Text)

	assert.Empty(t, f.deadLetters)
	assert.Contains(t, f.checkpoints.List(), conv.ID)
}

func TestToolRoundTurn(t *testing.T) {
	m := model.NewMockModel("test").
		AddToolCallTurn(core.FunctionCall{ID: "call-1", Name: "get_current_time", Arguments: "{}"}).
		AddTextTurn("It is noon UTC.")
	f := newEngineFixture(t, m, clockTool())

	conv := f.turn(t, "15550001111", "what time is it?")

	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SenderKind{
		core.SenderUser,
		core.SenderAgentToolRequest,
		core.SenderToolResult,
		core.SenderAgentText,
	}, senderKinds(msgs))

	// The tool request and result payloads round-trip through Rehydrate.
	events := Rehydrate(msgs, "Sia", nil)
	require.Len(t, events, 4)
	calls := events[1].GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ID)
	responses := events[2].GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "2026-09-01T12:00:00Z", responses[0].Response)

	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, "It is noon UTC.", f.sender.Sent()[0].Text)
	assert.Equal(t, 2, m.Calls())
}

func TestSecondTurnReusesConversation(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello!").AddTextTurn("Sure thing.")
	f := newEngineFixture(t, m)

	first := f.turn(t, "15550001111", "hi")
	second := f.turn(t, "15550001111", "book me in")
	assert.Equal(t, first.ID, second.ID)

	msgs, err := f.store.ListMessages(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	// Second planner call sees the full running transcript.
	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Contents, 3)
}

func TestRehydrationAfterRestart(t *testing.T) {
	m1 := model.NewMockModel("test").AddTextTurn("Hello Maya!")
	f1 := newEngineFixture(t, m1)
	conv := f1.turn(t, "15550001111", "hi, I'm Maya")

	// Restart: new engine, new checkpoint store, same durable store.
	m2 := model.NewMockModel("test").AddTextTurn("Welcome back.")
	f2 := &engineFixture{
		store:       f1.store,
		sender:      testutil.NewRecordingSender(),
		model:       m2,
		checkpoints: checkpoint.NewInMemoryStore(),
	}
	eng, err := New(Options{
		Model:       m2,
		Store:       f2.store,
		Sender:      f2.sender,
		Checkpoints: f2.checkpoints,
	})
	require.NoError(t, err)
	f2.engine = eng

	second := f2.turn(t, "15550001111", "am I still registered?")
	assert.Equal(t, conv.ID, second.ID)

	// The planner request contains the pre-restart history plus the new
	// message: user, assistant, user.
	reqs := m2.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Contents, 3)
	assert.Equal(t, "user", reqs[0].Contents[0].Role)
	assert.Equal(t, "assistant", reqs[0].Contents[1].Role)
	assert.Equal(t, "user", reqs[0].Contents[2].Role)
}

func TestPlannerFailureGoesToDeadLetter(t *testing.T) {
	m := model.NewMockModel("test").AddErrorTurn()
	f := newEngineFixture(t, m)

	conv := f.turn(t, "15550001111", "hi")

	require.Len(t, f.deadLetters, 1)
	assert.Contains(t, f.deadLetters[0].Error(), "planner round 1")

	// The user message survived; no reply went out.
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SenderKind{core.SenderUser}, senderKinds(msgs))
	assert.Empty(t, f.sender.Sent())

	// A failed turn does not wedge the worker: the next turn runs.
	m.AddTextTurn("Recovered.")
	f.turn(t, "15550001111", "hello again")
	require.Len(t, f.sender.Sent(), 1)
}

func TestRunawayToolLoopAbortsWithoutReply(t *testing.T) {
	m := model.NewMockModel("test")
	for i := 0; i < DefaultMaxToolRounds; i++ {
		m.AddToolCallTurn(core.FunctionCall{ID: core.NewID(), Name: "get_current_time", Arguments: "{}"})
	}
	f := newEngineFixture(t, m, clockTool())

	conv := f.turn(t, "15550001111", "loop forever")

	assert.Equal(t, DefaultMaxToolRounds, m.Calls())

	// Fatal for the turn: surfaced as a failure, nothing sent.
	require.Len(t, f.deadLetters, 1)
	assert.Contains(t, f.deadLetters[0].Error(), "tool round limit")
	assert.Empty(t, f.sender.Sent())

	// The log ends on the last tool round; no agent_text was fabricated.
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	assert.Equal(t, core.SenderToolResult, last.Sender)
	for _, msg := range msgs {
		assert.NotEqual(t, core.SenderAgentText, msg.Sender)
	}

	// The worker is not wedged: the next turn replies normally.
	m.AddTextTurn("Back to normal.")
	f.turn(t, "15550001111", "hello?")
	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, "Back to normal.", f.sender.Sent()[0].Text)
}

func TestEmptyFinalReplyFallsBackToTranscriptTail(t *testing.T) {
	m := model.NewMockModel("test").
		AddToolCallTurn(core.FunctionCall{ID: "call-1", Name: "get_current_time", Arguments: "{}"}).
		AddTextTurn("")
	f := newEngineFixture(t, m, clockTool())

	conv := f.turn(t, "15550001111", "what time is it?")

	// Not a failure and not a runaway loop: two rounds, then the documented
	// fallback of sending the last transcript entry's textual content.
	assert.Empty(t, f.deadLetters)
	assert.Equal(t, 2, m.Calls())

	require.Len(t, f.sender.Sent(), 1)
	assert.Contains(t, f.sender.Sent()[0].Text, "2026-09-01T12:00:00Z")

	// No empty agent_text lands in the durable log.
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SenderKind{
		core.SenderUser,
		core.SenderAgentToolRequest,
		core.SenderToolResult,
	}, senderKinds(msgs))
}

func TestEmptyFirstReplyEchoesUserMessage(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("")
	f := newEngineFixture(t, m)

	f.turn(t, "15550001111", "hi")

	// With no tool rounds the transcript tail is the user message itself.
	assert.Empty(t, f.deadLetters)
	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, "hi", f.sender.Sent()[0].Text)
}

func TestCloseToolEvictsCheckpoint(t *testing.T) {
	var closeTool tool.Tool
	f := newEngineFixture(t,
		model.NewMockModel("test").
			AddToolCallTurn(core.FunctionCall{ID: "call-1", Name: "close_conversation", Arguments: "{}"}).
			AddTextTurn("Goodbye!"),
	)
	closeTool = tool.NewFunctionTool("close_conversation", "Close the conversation",
		map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			err := f.store.CloseConversation(tc.Context(), tc.ConversationID, core.CloseReasonUserConfirmed)
			return map[string]any{"status": "success"}, err
		})
	f.engine.opts.Tools.Register(closeTool)

	conv := f.turn(t, "15550001111", "no thanks, that's all")

	// Farewell still goes out, then the checkpoint is gone.
	require.Len(t, f.sender.Sent(), 1)
	assert.Equal(t, "Goodbye!", f.sender.Sent()[0].Text)
	assert.NotContains(t, f.checkpoints.List(), conv.ID)

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationClosed, got.Status)
	assert.Equal(t, core.CloseReasonUserConfirmed, got.ClosedReason)

	// A new message from the same patient opens a fresh conversation.
	f.model.AddTextTurn("Hello again!")
	next := f.turn(t, "15550001111", "hi again")
	assert.NotEqual(t, conv.ID, next.ID)
}

func TestSendFailureStillDurable(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello!")
	f := newEngineFixture(t, m)
	f.sender.FailNext(true)

	conv := f.turn(t, "15550001111", "hi")

	require.Len(t, f.deadLetters, 1)
	assert.Contains(t, f.deadLetters[0].Error(), "sending reply")

	// Reply is durable even though delivery failed.
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SenderKind{core.SenderUser, core.SenderAgentText}, senderKinds(msgs))
}

// flakyConversationStore fails GetConversation on demand.
type flakyConversationStore struct {
	*store.MockStore
	failGet bool
}

func (s *flakyConversationStore) GetConversation(ctx context.Context, id int64) (*core.Conversation, error) {
	if s.failGet {
		return nil, errors.New("disk offline")
	}
	return s.MockStore.GetConversation(ctx, id)
}

func TestFinishTurnLogsConversationStatusFailure(t *testing.T) {
	flaky := &flakyConversationStore{MockStore: store.NewMockStore()}
	buf := &bytes.Buffer{}
	logCfg := logging.DefaultLoggerConfig()
	logCfg.Output = buf
	logCfg.AddSource = false
	logCfg.Level = logging.LogLevelError

	m := model.NewMockModel("test").AddTextTurn("Hello!")
	sender := testutil.NewRecordingSender()
	var deadLetters []error
	eng, err := New(Options{
		Model:      m,
		Store:      flaky,
		Sender:     sender,
		Logger:     logging.NewLogger(logCfg),
		DeadLetter: func(_ core.QueueItem, err error) { deadLetters = append(deadLetters, err) },
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = eng.HandleInbound(ctx, "15550001111", "hi")
	require.NoError(t, err)
	flaky.failGet = true

	item, err := eng.queue.Dequeue(ctx)
	require.NoError(t, err)
	eng.processItem(ctx, item)

	// The turn still completes; the status check failure is surfaced in the
	// log instead of being swallowed.
	assert.Empty(t, deadLetters)
	require.Len(t, sender.Sent(), 1)
	assert.Contains(t, buf.String(), "failed to check conversation status after turn")
}

func TestSweepClosesIdleConversation(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello!")
	f := newEngineFixture(t, m)

	conv := f.turn(t, "15550001111", "hi")

	// Backdate the checkpoint's interaction time past the idle timeout.
	lease := f.checkpoints.Acquire(conv.ID)
	cp := lease.Get()
	require.NotNil(t, cp)
	cp.LastInteraction = time.Now().UTC().Add(-time.Hour)
	lease.Put(cp)
	lease.Release()

	f.engine.SweepIdle(context.Background())

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationClosed, got.Status)
	assert.Equal(t, core.CloseReasonTimedOut, got.ClosedReason)
	assert.NotContains(t, f.checkpoints.List(), conv.ID)
}

func TestSweepLeavesActiveConversation(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello!")
	f := newEngineFixture(t, m)

	conv := f.turn(t, "15550001111", "hi")
	f.engine.SweepIdle(context.Background())

	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationOpen, got.Status)
	assert.Contains(t, f.checkpoints.List(), conv.ID)
}

func TestSweepSkipsAlreadyClosedConversation(t *testing.T) {
	m := model.NewMockModel("test").AddTextTurn("Hello!")
	f := newEngineFixture(t, m)

	conv := f.turn(t, "15550001111", "hi")
	require.NoError(t, f.store.CloseConversation(context.Background(), conv.ID, core.CloseReasonUserConfirmed))

	lease := f.checkpoints.Acquire(conv.ID)
	cp := lease.Get()
	require.NotNil(t, cp)
	cp.LastInteraction = time.Now().UTC().Add(-time.Hour)
	lease.Put(cp)
	lease.Release()

	f.engine.SweepIdle(context.Background())

	// The original close reason is untouched; the checkpoint is evicted.
	got, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloseReasonUserConfirmed, got.ClosedReason)
	assert.NotContains(t, f.checkpoints.List(), conv.ID)
}

func TestRunStopsOnCancel(t *testing.T) {
	m := model.NewMockModel("test")
	f := newEngineFixture(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
