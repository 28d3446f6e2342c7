package coordinator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/memadapter"
	"github.com/kadirpekel/maestro/pkg/coordinator"
	"github.com/kadirpekel/maestro/pkg/inject"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/snapshot"
	"github.com/kadirpekel/maestro/pkg/step"
	"github.com/kadirpekel/maestro/pkg/tool"
)

func guidanceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "soul.md"), []byte("Be helpful."), 0644)
	require.NoError(t, err)
	return dir
}

func newRunning(t *testing.T, cfg coordinator.Config) *coordinator.Coordinator {
	t.Helper()
	if cfg.DefaultGuidancePath == "" {
		cfg.DefaultGuidancePath = guidanceDir(t)
	}
	c := coordinator.New(cfg)
	require.NoError(t, c.Start())
	return c
}

// blockingTool suspends until approved.
type blockingTool struct{}

func (blockingTool) Name() string               { return "gate" }
func (blockingTool) Description() string        { return "wait for approval" }
func (blockingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (blockingTool) Category() string           { return "test" }
func (blockingTool) CanSuspend() bool           { return true }
func (blockingTool) Execute(_ context.Context, _ map[string]any, tc *tool.Context) (*tool.Result, error) {
	approved, err := tc.Step.WaitForApproval(nil)
	if err != nil {
		return nil, err
	}
	return tool.Success(approved), nil
}

func gateRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(blockingTool{}))
	return r
}

func TestStartOnlyFromStopped(t *testing.T) {
	c := coordinator.New(coordinator.Config{})
	require.NoError(t, c.Start())
	assert.Error(t, c.Start(), "second start must fail")
	assert.Equal(t, coordinator.StatusRunning, c.Status())
}

func TestSpawnRequiresRunning(t *testing.T) {
	c := coordinator.New(coordinator.Config{DefaultGuidancePath: guidanceDir(t)})
	_, err := c.Spawn(context.Background(), memadapter.New(), coordinator.SpawnConfig{})
	assert.Error(t, err)
}

func TestSpawnRequiresGuidancePath(t *testing.T) {
	c := coordinator.New(coordinator.Config{})
	require.NoError(t, c.Start())
	_, err := c.Spawn(context.Background(), memadapter.New(), coordinator.SpawnConfig{})
	assert.Error(t, err)
}

func TestSpawnEventFlow(t *testing.T) {
	store := snapshot.NewMemoryStore()
	c := newRunning(t, coordinator.Config{SnapshotStore: store})

	var mu sync.Mutex
	var events []coordinator.Event
	cancel := c.Subscribe(func(ev coordinator.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	h, err := c.Spawn(context.Background(), memadapter.New(), coordinator.SpawnConfig{
		Input: agent.Input{Message: "hello"},
		Tags:  []string{"greeter"},
	})
	require.NoError(t, err)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, result.Status)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, 1, result.Metrics.Turns)
	assert.Equal(t, 0, result.Metrics.ToolCalls)

	// agent_done is emitted after the re-emitted done event; give the
	// subscriber a beat.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		last := coordinator.EventType("")
		if n > 0 {
			last = events[n-1].Type
		}
		mu.Unlock()
		if last == coordinator.EventAgentDone || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, coordinator.EventAgentSpawned, events[0].Type)
	assert.Equal(t, []string{"greeter"}, events[0].Tags)
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, coordinator.EventAgentEvent, ev.Type)
		assert.Equal(t, h.ID(), ev.SessionID)
	}
	assert.Equal(t, coordinator.EventAgentDone, events[len(events)-1].Type)

	// Checkpoint persisted on done, enriched with adapter identity.
	cp, err := store.Load(context.Background(), h.ID())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "test", cp.AdapterConfig.Provider)
	assert.Equal(t, "echo-1", cp.AdapterConfig.Model)
}

func TestContinueFromCheckpoint(t *testing.T) {
	store := snapshot.NewMemoryStore()
	c := newRunning(t, coordinator.Config{SnapshotStore: store})
	a := memadapter.New()

	h, err := c.Spawn(context.Background(), a, coordinator.SpawnConfig{
		Input: agent.Input{Message: "first"},
	})
	require.NoError(t, err)
	first, err := h.Wait(context.Background())
	require.NoError(t, err)

	exists, err := store.Exists(context.Background(), h.ID())
	require.NoError(t, err)
	require.True(t, exists, "checkpoint must exist after done")

	cp, err := store.Load(context.Background(), h.ID())
	require.NoError(t, err)

	h2, err := c.Continue(context.Background(), h.ID(), agent.Input{Message: "again"}, a, nil)
	require.NoError(t, err)
	assert.Equal(t, h.ID(), h2.ID())
	assert.Equal(t, cp.Session.CreatedAt.Unix(), h2.Instance().CreatedAt().Unix())

	second, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.Greater(t, second.Metrics.Turns, first.Metrics.Turns)

	msgs := h2.Instance().Messages()
	require.GreaterOrEqual(t, len(msgs), len(cp.Messages))
	for i := range cp.Messages {
		assert.Equal(t, cp.Messages[i].Text(), msgs[i].Text(), "transcript prefix diverged at %d", i)
	}
}

func TestContinueMissingCheckpoint(t *testing.T) {
	c := newRunning(t, coordinator.Config{SnapshotStore: snapshot.NewMemoryStore()})
	_, err := c.Continue(context.Background(), "nope", agent.Input{}, memadapter.New(), nil)
	assert.True(t, errors.Is(err, coordinator.ErrCheckpointNotFound), "got %v", err)
}

type resumeInjector struct{}

func (resumeInjector) Name() string { return "resume-note" }
func (resumeInjector) Order() int   { return 10 }
func (resumeInjector) InjectSystemContext(context.Context, *inject.SessionInfo) (string, error) {
	return "", nil
}
func (resumeInjector) InjectResumeContext(context.Context, *inject.SessionInfo) ([]protocol.Message, error) {
	return []protocol.Message{protocol.NewUserMessage("resumed after downtime")}, nil
}

func TestContinueAppendsResumeMessages(t *testing.T) {
	store := snapshot.NewMemoryStore()
	injectors := inject.NewRegistry()
	require.NoError(t, injectors.Register(resumeInjector{}))
	c := newRunning(t, coordinator.Config{SnapshotStore: store, Injectors: injectors})
	a := memadapter.New()

	h, err := c.Spawn(context.Background(), a, coordinator.SpawnConfig{Input: agent.Input{Message: "first"}})
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	cp, err := store.Load(context.Background(), h.ID())
	require.NoError(t, err)

	h2, err := c.Continue(context.Background(), h.ID(), agent.Input{Message: "more"}, a, nil)
	require.NoError(t, err)
	_, err = h2.Wait(context.Background())
	require.NoError(t, err)

	// Checkpoint messages, then resume messages, then the new turn.
	msgs := h2.Instance().Messages()
	require.Greater(t, len(msgs), len(cp.Messages))
	assert.Equal(t, "resumed after downtime", msgs[len(cp.Messages)].Text())
}

func TestGracefulShutdownTerminatesInflight(t *testing.T) {
	c := newRunning(t, coordinator.Config{})
	a := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Tool("T1", "gate", nil)),
	))

	var handles []*agent.Handle
	for i := 0; i < 2; i++ {
		h, err := c.Spawn(context.Background(), a, coordinator.SpawnConfig{
			Tools: gateRegistry(t),
			Input: agent.Input{Message: "go"},
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// Both sessions suspend and stay non-terminal.
	for _, h := range handles {
		waitStatus(t, h, agent.StatusWaiting)
	}

	err := c.Shutdown(context.Background(), &coordinator.ShutdownOptions{Graceful: true, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusStopped, c.Status())

	for _, h := range handles {
		result, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, agent.StatusTerminated, result.Status)
		assert.Equal(t, "Coordinator shutdown", result.Error)
	}

	// The session table is cleared.
	assert.Empty(t, c.List(coordinator.Filter{}))
	assert.Error(t, c.Shutdown(context.Background(), nil), "second shutdown must fail")
}

func TestGracefulShutdownLetsSessionsFinish(t *testing.T) {
	c := newRunning(t, coordinator.Config{})

	h, err := c.Spawn(context.Background(), memadapter.New(), coordinator.SpawnConfig{
		Input: agent.Input{Message: "quick"},
	})
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(context.Background(), nil))
	assert.Equal(t, agent.StatusCompleted, h.Status(), "completed session must not be terminated")
}

func TestListFilters(t *testing.T) {
	c := newRunning(t, coordinator.Config{})
	gate := memadapter.New(memadapter.WithScript(
		memadapter.Ops(memadapter.Tool("T1", "gate", nil)),
	))

	done, err := c.Spawn(context.Background(), memadapter.New(), coordinator.SpawnConfig{
		Input: agent.Input{Message: "done"},
		Tags:  []string{"batch"},
	})
	require.NoError(t, err)
	_, err = done.Wait(context.Background())
	require.NoError(t, err)

	waiting, err := c.Spawn(context.Background(), gate, coordinator.SpawnConfig{
		Tools:    gateRegistry(t),
		Input:    agent.Input{Message: "hold"},
		Tags:     []string{"interactive"},
		ParentID: done.ID(),
	})
	require.NoError(t, err)
	waitStatus(t, waiting, agent.StatusWaiting)

	assert.Len(t, c.List(coordinator.Filter{}), 2)

	byStatus := c.List(coordinator.Filter{Statuses: []agent.Status{agent.StatusWaiting}})
	require.Len(t, byStatus, 1)
	assert.Equal(t, waiting.ID(), byStatus[0].ID())

	byTag := c.List(coordinator.Filter{Tags: []string{"batch", "nope"}})
	require.Len(t, byTag, 1)
	assert.Equal(t, done.ID(), byTag[0].ID())

	byParent := c.List(coordinator.Filter{ParentID: done.ID()})
	require.Len(t, byParent, 1)
	assert.Equal(t, waiting.ID(), byParent[0].ID())

	adapter, ok := c.GetAdapter(done.ID())
	require.True(t, ok)
	assert.Equal(t, "mem", adapter.Name())

	// Clean up the waiting session.
	waiting.Resolve([]step.Resolution{{ToolCallID: "T1", Result: true}})
	_, err = waiting.Wait(context.Background())
	require.NoError(t, err)
}

func waitStatus(t *testing.T, h *agent.Handle, want agent.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s (now %s)", want, h.Status())
}
