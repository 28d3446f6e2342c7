package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/memadapter"
	"github.com/kadirpekel/maestro/pkg/step"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// echoTool returns its input unchanged.
type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echo input" }
func (echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Category() string           { return "test" }
func (echoTool) CanSuspend() bool           { return false }
func (echoTool) Execute(_ context.Context, input map[string]any, _ *tool.Context) (*tool.Result, error) {
	return tool.Success(input), nil
}

// approvalTool asks for approval, then runs one memoized step. calls
// counts real step executions across replays.
type approvalTool struct {
	calls *int
}

func (approvalTool) Name() string               { return "rm" }
func (approvalTool) Description() string        { return "remove with approval" }
func (approvalTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (approvalTool) Category() string           { return "test" }
func (approvalTool) CanSuspend() bool           { return true }

func (a approvalTool) Execute(ctx context.Context, _ map[string]any, tc *tool.Context) (*tool.Result, error) {
	approved, err := tc.Step.WaitForApproval(map[string]any{"action": "delete", "description": "?"})
	if err != nil {
		return nil, err
	}
	if !approved {
		return tool.Errorf("not approved"), nil
	}
	out, err := tc.Step.Run(ctx, "delete", func(context.Context) (any, error) {
		*a.calls++
		return "deleted", nil
	})
	if err != nil {
		return nil, err
	}
	return tool.Success(out), nil
}

func registryWith(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, r.Register(tl))
	}
	return r
}

// collect drains a handle's event stream until the done event, with a
// timeout guard.
func collect(t *testing.T, h *agent.Handle) []agent.Event {
	t.Helper()
	var events []agent.Event
	stream := h.Events()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == agent.EventDone {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for done; got %d events", len(events))
		}
	}
}

func types(events []agent.Event) []agent.EventType {
	var out []agent.EventType
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func spawn(t *testing.T, a *memadapter.Adapter, cfg agent.CreateConfig) *agent.Handle {
	t.Helper()
	inst, err := a.Create(context.Background(), cfg)
	require.NoError(t, err)
	h := agent.NewHandle(inst)
	h.Start()
	return h
}

func TestHappyPathNoTools(t *testing.T) {
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Text("hi")),
	))
	h := spawn(t, a, agent.CreateConfig{Input: agent.Input{Message: "hello"}})

	events := collect(t, h)
	want := []agent.EventType{
		agent.EventStatus, // run loop: running
		agent.EventStatus, // agent_start: running
		agent.EventOutput, // "hi", final=false
		agent.EventOutput, // "", final=true
		agent.EventStatus, // completed
		agent.EventDone,
	}
	assert.Equal(t, want, types(events))

	assert.Equal(t, "hi", events[2].Text)
	assert.False(t, events[2].Final)
	assert.True(t, events[3].Final)
	assert.Equal(t, agent.StatusCompleted, events[4].Status)

	done := events[len(events)-1]
	require.NotNil(t, done.Result)
	assert.Equal(t, agent.StatusCompleted, done.Result.Status)
	assert.Equal(t, "hi", done.Result.Output)
	assert.Equal(t, 1, done.Result.Metrics.Turns)
	assert.Equal(t, 0, done.Result.Metrics.ToolCalls)
}

func TestToolCall(t *testing.T) {
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(
			memadapter.Tool("T1", "echo", map[string]any{"x": 1}),
			memadapter.Text("ran"),
		),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, echoTool{}),
		Input: agent.Input{Message: "go"},
	})

	events := collect(t, h)

	var start, end *agent.Event
	for i := range events {
		switch events[i].Type {
		case agent.EventToolStart:
			start = &events[i]
		case agent.EventToolEnd:
			end = &events[i]
		}
	}
	require.NotNil(t, start)
	require.NotNil(t, end)
	assert.Equal(t, "T1", start.ToolCallID)
	assert.Equal(t, "echo", start.ToolName)
	assert.Equal(t, map[string]any{"x": 1}, start.Input)
	assert.Equal(t, "T1", end.ToolCallID)
	assert.Empty(t, end.Err)
	assert.GreaterOrEqual(t, end.DurationMs, int64(0))

	done := events[len(events)-1]
	assert.Equal(t, 1, done.Result.Metrics.ToolCalls)
}

func TestSuspensionAndResume(t *testing.T) {
	calls := 0
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(
			memadapter.Tool("T1", "rm", map[string]any{"path": "/tmp/x"}),
			memadapter.Text("removed"),
		),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, approvalTool{calls: &calls}),
		Input: agent.Input{Message: "rm it"},
	})

	// Wait for the session to suspend.
	requireStatus(t, h, agent.StatusWaiting)

	pending := h.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, "T1", pending[0].ToolCallID)
	assert.Equal(t, "rm", pending[0].ToolName)
	assert.Equal(t, step.KindApproval, pending[0].Kind)

	approved := true
	h.Resolve([]step.Resolution{{ToolCallID: "T1", Approved: &approved}})

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, result.Status)
	assert.Equal(t, "removed", result.Output)
	assert.Equal(t, 1, calls, "memoized steps must not re-execute")
	assert.Empty(t, h.PendingRequests())
}

func TestSuspensionCancelled(t *testing.T) {
	calls := 0
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(
			memadapter.Tool("T1", "rm", nil),
			memadapter.Text("after"),
		),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, approvalTool{calls: &calls}),
		Input: agent.Input{Message: "rm it"},
	})

	requireStatus(t, h, agent.StatusWaiting)
	h.Resolve([]step.Resolution{{ToolCallID: "T1", Cancel: true, Reason: "changed my mind"}})

	events := collect(t, h)

	var end *agent.Event
	for i := range events {
		if events[i].Type == agent.EventToolEnd {
			end = &events[i]
		}
	}
	require.NotNil(t, end)
	assert.Contains(t, end.Err, "cancelled")

	// The session continues past the cancelled tool.
	done := events[len(events)-1]
	assert.Equal(t, agent.StatusCompleted, done.Result.Status)
	assert.Equal(t, 0, calls)
}

func TestBackendErrorFailsSession(t *testing.T) {
	a := memadapter.New(memadapter.WithScript(
		memadapter.Turn{memadapter.Fail("rate limited")},
	))
	h := spawn(t, a, agent.CreateConfig{Input: agent.Input{Message: "hi"}})

	events := collect(t, h)

	var errEvent *agent.Event
	for i := range events {
		if events[i].Type == agent.EventError {
			errEvent = &events[i]
		}
	}
	require.NotNil(t, errEvent)
	assert.True(t, errEvent.Fatal)
	assert.Contains(t, errEvent.Err, "rate limited")

	done := events[len(events)-1]
	assert.Equal(t, agent.StatusFailed, done.Result.Status)
	assert.Contains(t, done.Result.Error, "rate limited")
}

func TestTerminateSynthesizesDone(t *testing.T) {
	calls := 0
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Tool("T1", "rm", nil)),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, approvalTool{calls: &calls}),
		Input: agent.Input{Message: "x"},
	})

	requireStatus(t, h, agent.StatusWaiting)
	h.Terminate("operator stop")

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusTerminated, result.Status)
	assert.Equal(t, "operator stop", result.Error)
	assert.Equal(t, agent.StatusTerminated, h.Status())

	// Idempotent: a second terminate and a late resolve are no-ops.
	h.Terminate("again")
	h.Resolve([]step.Resolution{{ToolCallID: "T1", Result: "late"}})
	assert.Equal(t, agent.StatusTerminated, h.Status())
}

func TestAbortThenResolveIsNoop(t *testing.T) {
	calls := 0
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Tool("T1", "rm", nil)),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, approvalTool{calls: &calls}),
		Input: agent.Input{Message: "x"},
	})

	requireStatus(t, h, agent.StatusWaiting)
	h.Abort()

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAborted, result.Status)

	// Resolving after abort must not revive or panic the session.
	h.Resolve([]step.Resolution{{ToolCallID: "T1", Result: true}})
	assert.Equal(t, agent.StatusAborted, h.Status())
}

func TestEventsReplaysHistory(t *testing.T) {
	a := memadapter.New()
	h := spawn(t, a, agent.CreateConfig{Input: agent.Input{Message: "echo me"}})

	// Let the session finish first.
	_, err := h.Wait(context.Background())
	require.NoError(t, err)

	// A late consumer still sees the full ordered stream.
	events := collect(t, h)
	require.NotEmpty(t, events)
	assert.Equal(t, agent.EventStatus, events[0].Type)
	assert.Equal(t, agent.EventDone, events[len(events)-1].Type)

	var sawOutput bool
	for _, ev := range events {
		if ev.Type == agent.EventOutput && ev.Text == "echo me" {
			sawOutput = true
		}
	}
	assert.True(t, sawOutput, "history replay lost the output event")
}

func TestSendDuringWaitingQueuesInput(t *testing.T) {
	calls := 0
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Tool("T1", "rm", nil), memadapter.Text("done")),
	))
	h := spawn(t, a, agent.CreateConfig{
		Tools: registryWith(t, approvalTool{calls: &calls}),
		Input: agent.Input{Message: "x"},
	})

	requireStatus(t, h, agent.StatusWaiting)

	// Queued while waiting; consumed on a later cycle, not now.
	h.Send(agent.Input{Message: "follow-up"})
	assert.Equal(t, agent.StatusWaiting, h.Status())

	approved := true
	h.Resolve([]step.Resolution{{ToolCallID: "T1", Approved: &approved}})
	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, result.Status)
}

func TestCheckpointRoundTrip(t *testing.T) {
	a := memadapter.New()
	h := spawn(t, a, agent.CreateConfig{Input: agent.Input{Message: "persist me"}})

	_, err := h.Wait(context.Background())
	require.NoError(t, err)

	cp := h.Checkpoint()
	require.NotNil(t, cp)
	assert.Equal(t, h.ID(), cp.Session.ID)
	assert.Equal(t, "mem", cp.AdapterName)
	assert.Equal(t, 1, cp.Session.Metrics.Turns)
	require.Len(t, cp.Messages, 2)
	assert.Equal(t, "persist me", cp.Messages[0].Text())
	assert.Equal(t, "persist me", cp.Messages[1].Text())

	// Restore preserves identity and appends new work after the old
	// transcript.
	inst, err := a.Restore(context.Background(), cp, agent.CreateConfig{Input: agent.Input{Message: "again"}})
	require.NoError(t, err)
	assert.Equal(t, cp.Session.ID, inst.ID())
	assert.Equal(t, cp.Session.CreatedAt.Unix(), inst.CreatedAt().Unix())
	assert.Equal(t, 1, inst.TurnCount())

	h2 := agent.NewHandle(inst)
	h2.Start()
	result, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Metrics.Turns)

	msgs := inst.Messages()
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, "persist me", msgs[0].Text())
	assert.Equal(t, "again", msgs[len(msgs)-1].Text())
}

// requireStatus polls until the session reaches the wanted status.
func requireStatus(t *testing.T, h *agent.Handle, want agent.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached status %s (now %s)", want, h.Status())
}
