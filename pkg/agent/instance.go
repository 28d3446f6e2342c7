// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/maestro/pkg/guidance"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/step"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// InstanceConfig assembles an Instance. Adapters fill it from a
// CreateConfig (fresh) or a checkpoint plus CreateConfig (restore).
type InstanceConfig struct {
	ID          string
	AdapterName string
	CreatedAt   time.Time

	// Restored bookkeeping; zero on fresh sessions.
	TurnCount  int
	ToolCalls  int
	TokensUsed int

	Guidance *guidance.Context
	Tools    *tool.Registry
	Task     string
	Tags     []string
	Metadata map[string]any
	ParentID string
	Skills   []guidance.Skill

	// ToolExecutions seeds the durable tool state on restore.
	ToolExecutions []step.ExecutionState

	// Input is queued for the first run cycle when non-empty.
	Input Input

	Backend Backend
	Logger  *slog.Logger
}

// Instance is one live session: the per-agent state machine driving a
// Backend through prompt turns, tool execution, suspension, and replay.
type Instance struct {
	id          string
	adapterName string
	createdAt   time.Time
	guidance    *guidance.Context
	tools       *tool.Registry
	task        string
	tags        []string
	metadata    map[string]any
	parentID    string
	skills      []guidance.Skill
	backend     Backend
	logger      *slog.Logger

	mu                 sync.Mutex
	status             Status
	inputQueue         []Input
	pendingRequests    []step.Request
	pendingResolutions map[string]step.Resolution
	resumeData         map[string]*step.ResumeData
	toolExecs          []*step.ExecutionState
	toolExecByID       map[string]*step.ExecutionState
	toolCallTimes      map[string]time.Time
	toolCallSeen       map[string]bool
	toolCalls          int
	turnCount          int
	tokensUsed         int
	startTime          time.Time
	replaying          bool

	pauseCh  chan struct{}
	resumeCh chan struct{}

	abortCtx    context.Context
	abortCancel context.CancelFunc
}

// NewInstance builds an instance in the initializing state.
func NewInstance(cfg InstanceConfig) *Instance {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}

	abortCtx, abortCancel := context.WithCancel(context.Background())
	in := &Instance{
		id:                 cfg.ID,
		adapterName:        cfg.AdapterName,
		createdAt:          cfg.CreatedAt,
		guidance:           cfg.Guidance,
		tools:              cfg.Tools,
		task:               cfg.Task,
		tags:               cfg.Tags,
		metadata:           cfg.Metadata,
		parentID:           cfg.ParentID,
		skills:             cfg.Skills,
		backend:            cfg.Backend,
		logger:             cfg.Logger.With("session_id", cfg.ID),
		status:             StatusInitializing,
		pendingResolutions: make(map[string]step.Resolution),
		resumeData:         make(map[string]*step.ResumeData),
		toolExecByID:       make(map[string]*step.ExecutionState),
		toolCallTimes:      make(map[string]time.Time),
		toolCallSeen:       make(map[string]bool),
		turnCount:          cfg.TurnCount,
		toolCalls:          cfg.ToolCalls,
		tokensUsed:         cfg.TokensUsed,
		resumeCh:           make(chan struct{}, 1),
		abortCtx:           abortCtx,
		abortCancel:        abortCancel,
	}

	for i := range cfg.ToolExecutions {
		es := cfg.ToolExecutions[i]
		in.toolExecs = append(in.toolExecs, &es)
		in.toolExecByID[es.ToolCallID] = in.toolExecs[len(in.toolExecs)-1]
		in.toolCallSeen[es.ToolCallID] = true
		// A restored execution suspended mid-flight re-surfaces its
		// pending request so callers can resolve it after a restart.
		if es.SuspendedStep != nil {
			in.pendingRequests = append(in.pendingRequests, es.SuspendedStep.Request)
		}
	}
	if !cfg.Input.Empty() {
		in.inputQueue = append(in.inputQueue, cfg.Input)
	}
	return in
}

// ID returns the session id.
func (in *Instance) ID() string { return in.id }

// CreatedAt returns the session creation time, preserved across restores.
func (in *Instance) CreatedAt() time.Time { return in.createdAt }

// AdapterName returns the creating adapter's name.
func (in *Instance) AdapterName() string { return in.adapterName }

// Tags returns the session tags.
func (in *Instance) Tags() []string { return in.tags }

// ParentID returns the parent session id, if any.
func (in *Instance) ParentID() string { return in.parentID }

// Status returns the current session status.
func (in *Instance) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// TurnCount returns the number of completed turns, preserved across
// restores.
func (in *Instance) TurnCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.turnCount
}

// PendingRequests returns the pending suspensions. Non-empty exactly when
// the session is waiting.
func (in *Instance) PendingRequests() []step.Request {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]step.Request(nil), in.pendingRequests...)
}

// Messages returns the session transcript so far.
func (in *Instance) Messages() []protocol.Message {
	return in.backend.Messages()
}

// Run starts the session's run loop and returns its event stream. The
// channel closes after the terminal event, or silently on termination
// (the handle synthesizes the terminal event in that case).
func (in *Instance) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, 64)
	go in.runLoop(ctx, out)
	return out
}

func (in *Instance) runLoop(ctx context.Context, out chan<- Event) {
	defer close(out)

	in.mu.Lock()
	if in.startTime.IsZero() {
		in.startTime = time.Now()
	}
	in.mu.Unlock()

	for {
		if terminal := in.runCycle(out); terminal {
			return
		}

		// Waiting: the cycle left pending requests behind. Sleep until a
		// resolution drains them, the session is aborted or terminated,
		// or the caller gives up.
		select {
		case <-in.resumeCh:
		case <-in.abortCtx.Done():
			if in.Status() == StatusAborted {
				out <- statusEvent(in.id, StatusAborted)
				out <- doneEvent(in.id, in.terminalResult(StatusAborted, "aborted"))
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCycle performs one prompt/drain cycle. Returns true when the session
// reached a terminal state.
func (in *Instance) runCycle(out chan<- Event) bool {
	replay := in.takeReplayFlag()

	in.setStatus(StatusRunning)
	out <- statusEvent(in.id, StatusRunning)

	message, havePrompt := "", replay
	if !replay {
		in.mu.Lock()
		if len(in.inputQueue) == 0 {
			in.logger.Debug("Run cycle with empty input queue, skipping prompt")
		} else {
			input := in.inputQueue[0]
			in.inputQueue = in.inputQueue[1:]
			message = input.Message
			havePrompt = true
		}
		in.mu.Unlock()
	}

	if havePrompt {
		if terminal := in.prompt(message, out); terminal {
			return true
		}
	}

	switch in.Status() {
	case StatusAborted:
		out <- statusEvent(in.id, StatusAborted)
		out <- doneEvent(in.id, in.terminalResult(StatusAborted, "aborted"))
		return true
	case StatusTerminated:
		return true
	}

	in.mu.Lock()
	pending := append([]step.Request(nil), in.pendingRequests...)
	in.mu.Unlock()

	if len(pending) > 0 {
		in.setStatus(StatusWaiting)
		out <- statusEvent(in.id, StatusWaiting)
		out <- Event{Type: EventSuspended, Timestamp: time.Now(), SessionID: in.id, Pending: pending}
		return false
	}

	in.setStatus(StatusCompleted)
	out <- statusEvent(in.id, StatusCompleted)
	out <- doneEvent(in.id, &Result{
		Status:  StatusCompleted,
		Output:  in.lastAssistantText(),
		Metrics: in.metrics(),
	})
	return true
}

// prompt runs one backend turn, translating its event stream. Returns
// true when the cycle ended the session (failure).
func (in *Instance) prompt(message string, out chan<- Event) bool {
	queue := make(chan BackendEvent, 256)
	harness := &Harness{}
	harness.Emit = func(ev BackendEvent) { queue <- ev }
	harness.RunTool = func(ctx context.Context, call ToolCall) *tool.Result {
		return in.runTool(ctx, call, harness.Emit)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- in.backend.Prompt(in.abortCtx, message, harness)
		close(queue)
	}()

	for ev := range queue {
		in.gatePause(out)
		for _, e := range in.translate(ev) {
			out <- e
		}
	}

	if err := <-errCh; err != nil {
		// A Suspension escaping the prompt already had its effects
		// recorded through the tool harness.
		if _, ok := step.AsSuspension(err); !ok && !errors.Is(err, context.Canceled) {
			return in.fail(out, err)
		}
	}

	if in.backend.LastStopReason() == "error" {
		msg := in.lastAssistantText()
		if msg == "" {
			msg = "model request failed"
		}
		return in.fail(out, errors.New(msg))
	}
	return false
}

func (in *Instance) fail(out chan<- Event, err error) bool {
	in.setStatus(StatusFailed)
	out <- Event{Type: EventError, Timestamp: time.Now(), SessionID: in.id, Err: err.Error(), Fatal: true}
	out <- doneEvent(in.id, &Result{
		Status:  StatusFailed,
		Output:  in.lastAssistantText(),
		Error:   err.Error(),
		Metrics: in.metrics(),
	})
	return true
}

// gatePause blocks between event deliveries while a pause token is held.
func (in *Instance) gatePause(out chan<- Event) {
	in.mu.Lock()
	ch := in.pauseCh
	in.mu.Unlock()
	if ch == nil {
		return
	}

	out <- statusEvent(in.id, StatusPaused)
	<-ch
	out <- statusEvent(in.id, StatusRunning)
}

// translate maps one adapter event onto zero or more session events,
// updating tool and turn bookkeeping. Unknown adapter events are dropped.
func (in *Instance) translate(ev BackendEvent) []Event {
	now := time.Now()
	switch ev.Type {
	case BackendAgentStart:
		return []Event{statusEvent(in.id, StatusRunning)}

	case BackendMessageUpdate:
		switch ev.Kind {
		case UpdateTextDelta:
			return []Event{{Type: EventOutput, Timestamp: now, SessionID: in.id, Text: ev.Delta}}
		case UpdateTextEnd:
			return []Event{{Type: EventOutput, Timestamp: now, SessionID: in.id, Final: true}}
		case UpdateThinkingDelta:
			return []Event{{Type: EventThought, Timestamp: now, SessionID: in.id, Content: ev.Delta}}
		}

	case BackendToolStart:
		in.mu.Lock()
		in.toolCallTimes[ev.ToolCallID] = now
		// Count distinct tool calls; a replay after suspension re-starts
		// the same call id and must not double-count.
		if !in.toolCallSeen[ev.ToolCallID] {
			in.toolCallSeen[ev.ToolCallID] = true
			in.toolCalls++
		}
		in.mu.Unlock()
		return []Event{{
			Type: EventToolStart, Timestamp: now, SessionID: in.id,
			ToolCallID: ev.ToolCallID, ToolName: ev.ToolName, Input: ev.Input,
		}}

	case BackendToolUpdate:
		return []Event{{
			Type: EventToolProgress, Timestamp: now, SessionID: in.id,
			ToolCallID: ev.ToolCallID, ToolName: ev.ToolName, Progress: ev.Progress,
		}}

	case BackendToolEnd:
		in.mu.Lock()
		var duration int64
		if start, ok := in.toolCallTimes[ev.ToolCallID]; ok {
			duration = now.Sub(start).Milliseconds()
			delete(in.toolCallTimes, ev.ToolCallID)
		}
		in.mu.Unlock()
		e := Event{
			Type: EventToolEnd, Timestamp: now, SessionID: in.id,
			ToolCallID: ev.ToolCallID, ToolName: ev.ToolName,
			Output: ev.Output, DurationMs: duration,
		}
		if ev.IsError {
			e.Err = ev.ErrorText
		}
		return []Event{e}

	case BackendTurnEnd:
		in.mu.Lock()
		in.turnCount++
		in.mu.Unlock()
	}
	return nil
}

// runTool executes one tool invocation with a durable step context seeded
// from prior completed steps and any matching resume data. A nil return
// tells the backend the tool suspended.
func (in *Instance) runTool(ctx context.Context, call ToolCall, emit func(BackendEvent)) *tool.Result {
	if in.tools == nil {
		return tool.Errorf("no tools registered")
	}
	t, ok := in.tools.Get(call.Name)
	if !ok {
		return tool.Errorf("unknown tool: %s", call.Name)
	}

	es := in.executionFor(call)
	resume := in.takeResumeData(call.ID)

	logger := in.logger.With("tool", call.Name, "tool_call_id", call.ID)
	sc := step.New(call.ID, call.Name, es.CompletedSteps, resume, step.Hooks{
		OnStepStart:    func(id string) { logger.Debug("Step started", "step_id", id) },
		OnStepEnd:      func(id string) { logger.Debug("Step finished", "step_id", id) },
		OnStepMemoized: func(id string) { logger.Debug("Step replayed from record", "step_id", id) },
		OnSuspended:    func(req step.Request) { logger.Info("Tool suspended", "kind", req.Kind) },
	})

	tc := &tool.Context{
		SessionID: in.id,
		Guidance:  in.guidance,
		Step:      sc,
		EmitProgress: func(progress any) {
			emit(BackendEvent{Type: BackendToolUpdate, ToolCallID: call.ID, ToolName: call.Name, Progress: progress})
		},
		Logger: logger,
	}

	result, err := t.Execute(ctx, call.Input, tc)

	in.mu.Lock()
	es.CompletedSteps = sc.Completed()
	in.mu.Unlock()

	if err != nil {
		if susp, ok := step.AsSuspension(err); ok {
			in.recordSuspension(es, susp)
			return nil
		}
		in.clearSuspension(es)
		return tool.Errorf("%v", err)
	}

	in.clearSuspension(es)
	if result == nil {
		result = tool.Success(nil)
	}
	return result
}

// executionFor finds or creates the durable execution state for a tool
// call.
func (in *Instance) executionFor(call ToolCall) *step.ExecutionState {
	in.mu.Lock()
	defer in.mu.Unlock()
	if es, ok := in.toolExecByID[call.ID]; ok {
		return es
	}
	es := &step.ExecutionState{ToolName: call.Name, ToolCallID: call.ID, Input: call.Input}
	in.toolExecs = append(in.toolExecs, es)
	in.toolExecByID[call.ID] = es
	return es
}

func (in *Instance) takeResumeData(toolCallID string) *step.ResumeData {
	in.mu.Lock()
	defer in.mu.Unlock()
	rd := in.resumeData[toolCallID]
	delete(in.resumeData, toolCallID)
	return rd
}

func (in *Instance) recordSuspension(es *step.ExecutionState, susp *step.Suspension) {
	in.mu.Lock()
	defer in.mu.Unlock()

	es.SuspendedStep = &step.SuspendedStep{
		StepID:      susp.StepID,
		Request:     susp.Request,
		SuspendedAt: susp.Request.SuspendedAt,
	}

	for i, req := range in.pendingRequests {
		if req.ToolCallID == susp.Request.ToolCallID {
			in.pendingRequests[i] = susp.Request
			return
		}
	}
	in.pendingRequests = append(in.pendingRequests, susp.Request)
}

func (in *Instance) clearSuspension(es *step.ExecutionState) {
	in.mu.Lock()
	defer in.mu.Unlock()
	es.SuspendedStep = nil
}

// Send queues caller input. During a running turn a message is first
// offered to the backend's follow-up channel; the queue stays the
// authoritative source when the backend declines.
func (in *Instance) Send(input Input) {
	in.mu.Lock()
	status := in.status
	if status.Terminal() {
		in.mu.Unlock()
		return
	}
	if status == StatusRunning && input.Message != "" {
		in.mu.Unlock()
		if in.backend.Steer(input.Message) {
			return
		}
		in.mu.Lock()
	}
	in.inputQueue = append(in.inputQueue, input)
	in.mu.Unlock()
}

// Pause installs the pause token. No further events flow to consumers
// until Resume; the underlying model request is not cancelled.
func (in *Instance) Pause() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status != StatusRunning {
		return
	}
	in.pauseCh = make(chan struct{})
	in.status = StatusPaused
}

// Resume releases the pause token.
func (in *Instance) Resume() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status != StatusPaused {
		return
	}
	close(in.pauseCh)
	in.pauseCh = nil
	in.status = StatusRunning
}

// Abort cancels the session cooperatively: the cancel token trips, the
// backend aborts, and the run loop finishes with an aborted terminal
// event.
func (in *Instance) Abort() {
	in.mu.Lock()
	if in.status.Terminal() {
		in.mu.Unlock()
		return
	}
	in.status = StatusAborted
	if in.pauseCh != nil {
		close(in.pauseCh)
		in.pauseCh = nil
	}
	in.mu.Unlock()

	in.backend.Abort()
	in.abortCancel()
}

// Terminate forces the terminated status without waiting for in-flight
// work. The handle synthesizes the terminal event.
func (in *Instance) Terminate(reason string) {
	in.mu.Lock()
	if in.status.Terminal() {
		in.mu.Unlock()
		return
	}
	in.status = StatusTerminated
	if in.pauseCh != nil {
		close(in.pauseCh)
		in.pauseCh = nil
	}
	in.mu.Unlock()

	in.logger.Info("Session terminated", "reason", reason)
	in.backend.Abort()
	in.abortCancel()
}

// Resolve matches resolutions against pending requests: each consumed
// request is removed, its resume data recorded for replay (or marked
// cancelled), and once all requests are drained a waiting session moves
// back to running and replays the suspended work. Best-effort: unmatched
// resolutions and terminal sessions are ignored.
func (in *Instance) Resolve(resolutions []step.Resolution) {
	in.mu.Lock()
	if in.status.Terminal() {
		in.mu.Unlock()
		return
	}

	for _, r := range resolutions {
		idx := -1
		for i, req := range in.pendingRequests {
			if req.ToolCallID == r.ToolCallID {
				idx = i
				break
			}
		}
		if idx < 0 {
			in.logger.Debug("Resolution without pending request, ignoring", "tool_call_id", r.ToolCallID)
			continue
		}

		in.pendingResolutions[r.ToolCallID] = r

		stepID := step.SuspendStepID(r.ToolCallID)
		if r.Cancel {
			in.resumeData[r.ToolCallID] = &step.ResumeData{StepID: stepID, Cancelled: true, Reason: r.Reason}
		} else {
			in.resumeData[r.ToolCallID] = &step.ResumeData{StepID: stepID, Result: r.Value()}
		}

		in.pendingRequests = append(in.pendingRequests[:idx], in.pendingRequests[idx+1:]...)
	}

	resume := len(in.pendingRequests) == 0 && in.status == StatusWaiting
	if resume {
		in.status = StatusRunning
		in.replaying = true
	}
	in.mu.Unlock()

	if resume {
		select {
		case in.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Checkpoint snapshots the session. Safe to call in any state; does not
// mutate. Provider and model fields are injected by the coordinator.
func (in *Instance) Checkpoint() *protocol.Checkpoint {
	in.mu.Lock()
	session := protocol.SessionCheckpoint{
		ID:        in.id,
		ParentID:  in.parentID,
		CreatedAt: in.createdAt,
		Tags:      append([]string(nil), in.tags...),
		Metadata:  in.metadata,
		Task:      in.task,
		Metrics:   in.metricsLocked(),
	}
	executions := make([]step.ExecutionState, 0, len(in.toolExecs))
	for _, es := range in.toolExecs {
		executions = append(executions, *es)
	}
	in.mu.Unlock()

	var guidanceState protocol.GuidanceState
	if in.guidance != nil {
		guidanceState = protocol.GuidanceState{
			GuidancePath: in.guidance.Path(),
			MemoryWrites: in.guidance.MemoryWrites(),
			SystemState:  in.guidance.SystemState(),
		}
	}

	return &protocol.Checkpoint{
		Timestamp:      time.Now(),
		AdapterName:    in.adapterName,
		Session:        session,
		Guidance:       guidanceState,
		Messages:       in.backend.Messages(),
		ToolExecutions: executions,
	}
}

func (in *Instance) setStatus(s Status) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status.Terminal() {
		return
	}
	in.status = s
}

func (in *Instance) takeReplayFlag() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	replay := in.replaying
	in.replaying = false
	return replay
}

func (in *Instance) metrics() protocol.Metrics {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.metricsLocked()
}

func (in *Instance) metricsLocked() protocol.Metrics {
	var duration int64
	if !in.startTime.IsZero() {
		duration = time.Since(in.startTime).Milliseconds()
	}
	return protocol.Metrics{
		DurationMs: duration,
		Turns:      in.turnCount,
		ToolCalls:  in.toolCalls,
		TokensUsed: in.tokensUsed,
	}
}

func (in *Instance) terminalResult(status Status, reason string) *Result {
	return &Result{Status: status, Output: in.lastAssistantText(), Error: reason, Metrics: in.metrics()}
}

func (in *Instance) lastAssistantText() string {
	msgs := in.backend.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == protocol.RoleAssistant {
			if text := msgs[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// String implements fmt.Stringer for log readability.
func (in *Instance) String() string {
	return fmt.Sprintf("session %s (%s)", in.id, in.Status())
}
