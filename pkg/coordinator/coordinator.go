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

// Package coordinator multiplexes agent session lifecycles.
//
// The Coordinator owns the session registry and the snapshot store,
// re-emits every session's events on one bus, persists a checkpoint on
// each terminal event, and implements graceful shutdown. Sessions run
// concurrently; the coordinator never serialises their run loops.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/bus"
	"github.com/kadirpekel/maestro/pkg/guidance"
	"github.com/kadirpekel/maestro/pkg/inject"
	"github.com/kadirpekel/maestro/pkg/observability"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/snapshot"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// ErrCheckpointNotFound is returned by Continue when the snapshot store
// has no checkpoint for the session.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Status is the coordinator lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Config configures a Coordinator. Every field is optional except that
// spawning requires a guidance path from either the config or the spawn.
type Config struct {
	SnapshotStore       snapshot.Store
	DefaultGuidancePath string
	Logger              *slog.Logger
	Injectors           *inject.Registry
	Timezone            string
	SkillsPath          string
	Observability       *observability.Manager
}

// EventType tags coordinator events.
type EventType string

const (
	EventAgentSpawned EventType = "agent_spawned"
	EventAgentEvent   EventType = "agent_event"
	EventAgentDone    EventType = "agent_done"
)

// Event is one coordinator-level event: a session was spawned, one of its
// events was re-emitted, or it finished.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Tags      []string     `json:"tags,omitempty"`
	ParentID  string       `json:"parent_id,omitempty"`
	Event     *agent.Event `json:"event,omitempty"`
	Result    *agent.Result `json:"result,omitempty"`
}

// SpawnConfig parameterises Spawn.
type SpawnConfig struct {
	GuidancePath string
	Task         string
	Limits       agent.Limits
	Input        agent.Input
	ParentID     string
	Tools        *tool.Registry
	Tags         []string
	Metadata     map[string]any
}

// ContinueConfig parameterises Continue.
type ContinueConfig struct {
	GuidancePath string
	Tools        *tool.Registry
	Tags         []string
}

// ShutdownOptions controls Shutdown. Nil means graceful with the default
// timeout.
type ShutdownOptions struct {
	// Graceful waits for in-flight sessions before terminating the rest.
	Graceful bool

	// Timeout bounds the graceful wait.
	Timeout time.Duration
}

// DefaultShutdownTimeout bounds the graceful wait when Shutdown is called
// with nil options; an explicit zero Timeout means one scheduler tick.
const DefaultShutdownTimeout = 30 * time.Second

type session struct {
	handle  *agent.Handle
	adapter agent.Adapter
	cancel  func()
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	// Statuses matches any of the given statuses.
	Statuses []agent.Status

	// Tags matches sessions carrying any of the given tags.
	Tags []string

	// ParentID matches an exact parent session.
	ParentID string
}

// Coordinator is the single-process scheduler for agent sessions.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	loc    *time.Location
	events *bus.Bus[Event]

	mu       sync.Mutex
	status   Status
	sessions map[string]*session
}

// New creates a stopped coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loc := time.Local
	if cfg.Timezone != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("Invalid timezone, using system zone", "timezone", cfg.Timezone, "error", err)
		} else {
			loc = parsed
		}
	}

	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		loc:      loc,
		events:   bus.New[Event](),
		status:   StatusStopped,
		sessions: make(map[string]*session),
	}
}

// Status returns the coordinator lifecycle state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start moves the coordinator to running. Valid only from stopped.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusStopped {
		return fmt.Errorf("cannot start coordinator from %s", c.status)
	}
	c.status = StatusStarting
	c.status = StatusRunning
	c.logger.Info("Coordinator started")
	return nil
}

// Shutdown stops the coordinator. With graceful shutdown, in-flight
// sessions get until the timeout to finish; whatever remains is
// terminated. The session table is cleared either way.
func (c *Coordinator) Shutdown(ctx context.Context, opts *ShutdownOptions) error {
	if opts == nil {
		opts = &ShutdownOptions{Graceful: true, Timeout: DefaultShutdownTimeout}
	}
	if opts.Timeout == 0 && opts.Graceful {
		// A zero timeout is honored literally: one scheduler tick.
		opts.Timeout = time.Millisecond
	}

	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return fmt.Errorf("cannot shut down coordinator from %s", c.status)
	}
	c.status = StatusStopping
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	if opts.Graceful {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		g, gctx := errgroup.WithContext(waitCtx)
		for _, s := range sessions {
			if status := s.handle.Status(); status != agent.StatusRunning && status != agent.StatusWaiting {
				continue
			}
			handle := s.handle
			g.Go(func() error {
				// Timeout is the expected exit path; termination below
				// handles stragglers.
				_, _ = handle.Wait(gctx)
				return nil
			})
		}
		_ = g.Wait()
		cancel()
	}

	for _, s := range sessions {
		if !s.handle.Status().Terminal() {
			s.handle.Terminate("Coordinator shutdown")
		}
		if s.cancel != nil {
			s.cancel()
		}
	}

	c.mu.Lock()
	c.sessions = make(map[string]*session)
	c.status = StatusStopped
	c.mu.Unlock()

	c.logger.Info("Coordinator stopped", "terminated_sessions", len(sessions))
	return nil
}

// Spawn creates a fresh session and starts it. The returned handle is
// already registered and streaming.
func (c *Coordinator) Spawn(ctx context.Context, adapter agent.Adapter, cfg SpawnConfig) (*agent.Handle, error) {
	if err := c.requireRunning("spawn"); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()

	guidancePath := cfg.GuidancePath
	if guidancePath == "" {
		guidancePath = c.cfg.DefaultGuidancePath
	}
	if guidancePath == "" {
		return nil, fmt.Errorf("guidance path is required (spawn config or coordinator default)")
	}
	g, err := guidance.Load(guidancePath)
	if err != nil {
		return nil, err
	}

	skills, err := c.loadSkills()
	if err != nil {
		return nil, err
	}

	var injection *agent.ContextInjection
	if c.cfg.Injectors != nil {
		systemContext := c.cfg.Injectors.CollectSystemContext(ctx, &inject.SessionInfo{
			SessionID:    sessionID,
			GuidancePath: guidancePath,
			Guidance:     g,
			Task:         cfg.Task,
			Tags:         cfg.Tags,
			Metadata:     cfg.Metadata,
			Timezone:     c.loc.String(),
		})
		if systemContext != "" {
			injection = &agent.ContextInjection{SystemContext: systemContext}
		}
	}

	inst, err := adapter.Create(ctx, agent.CreateConfig{
		SessionID:        sessionID,
		Guidance:         g,
		Task:             cfg.Task,
		Limits:           cfg.Limits,
		Input:            cfg.Input,
		ParentID:         cfg.ParentID,
		Tools:            cfg.Tools,
		Tags:             cfg.Tags,
		Metadata:         cfg.Metadata,
		Skills:           skills,
		ContextInjection: injection,
		Logger:           c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter %s failed to create session: %w", adapter.Name(), err)
	}

	handle := c.register(inst, adapter)

	c.emit(Event{
		Type:      EventAgentSpawned,
		Timestamp: time.Now(),
		SessionID: handle.ID(),
		Tags:      cfg.Tags,
		ParentID:  cfg.ParentID,
	})
	c.cfg.Observability.RecordSpawn(ctx)

	handle.Start()
	return handle, nil
}

// Continue restores a session from its checkpoint and starts it. The
// session keeps its id, creation time, and turn count; new messages are
// appended after the checkpoint's transcript plus any injector-provided
// resume messages.
func (c *Coordinator) Continue(ctx context.Context, sessionID string, input agent.Input, adapter agent.Adapter, cc *ContinueConfig) (*agent.Handle, error) {
	if err := c.requireRunning("continue"); err != nil {
		return nil, err
	}
	if cc == nil {
		cc = &ContinueConfig{}
	}

	cp, err := c.LoadCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrCheckpointNotFound)
	}

	guidancePath := cc.GuidancePath
	if guidancePath == "" {
		guidancePath = cp.Guidance.GuidancePath
	}
	if guidancePath == "" {
		guidancePath = c.cfg.DefaultGuidancePath
	}
	if guidancePath == "" {
		return nil, fmt.Errorf("guidance path is required (continue config, checkpoint, or coordinator default)")
	}
	g, err := guidance.Load(guidancePath)
	if err != nil {
		return nil, err
	}
	g.Restore(cp.Guidance.MemoryWrites, cp.Guidance.SystemState)

	skills, err := c.loadSkills()
	if err != nil {
		return nil, err
	}

	var injection *agent.ContextInjection
	if c.cfg.Injectors != nil {
		resume := c.cfg.Injectors.CollectResumeContext(ctx, &inject.SessionInfo{
			SessionID:    sessionID,
			GuidancePath: guidancePath,
			Guidance:     g,
			Task:         cp.Session.Task,
			Tags:         cp.Session.Tags,
			Metadata:     cp.Session.Metadata,
			Timezone:     c.loc.String(),
			Resuming:     true,
			Checkpoint:   cp,
		})
		if len(resume) > 0 {
			injection = &agent.ContextInjection{ResumeMessages: resume}
		}
	}

	inst, err := adapter.Restore(ctx, cp, agent.CreateConfig{
		SessionID:        sessionID,
		Guidance:         g,
		Input:            input,
		Tools:            cc.Tools,
		Tags:             cc.Tags,
		Skills:           skills,
		ContextInjection: injection,
		Logger:           c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter %s failed to restore session %s: %w", adapter.Name(), sessionID, err)
	}

	handle := c.register(inst, adapter)

	c.emit(Event{
		Type:      EventAgentSpawned,
		Timestamp: time.Now(),
		SessionID: handle.ID(),
		Tags:      handle.Instance().Tags(),
		ParentID:  handle.Instance().ParentID(),
	})
	c.cfg.Observability.RecordSpawn(ctx)

	handle.Start()
	return handle, nil
}

// register wraps an instance, wires event re-emission and
// checkpoint-on-done, and stores the session. A live session with the
// same id is replaced, matching continue-over-live semantics.
func (c *Coordinator) register(inst *agent.Instance, adapter agent.Adapter) *agent.Handle {
	handle := agent.NewHandle(inst)

	cancel := handle.Subscribe(func(ev agent.Event) {
		c.emit(Event{
			Type:      EventAgentEvent,
			Timestamp: time.Now(),
			SessionID: handle.ID(),
			Event:     &ev,
		})
		c.cfg.Observability.RecordEvent(context.Background())
		if ev.Type == agent.EventSuspended {
			c.cfg.Observability.RecordSuspension(context.Background())
		}

		if ev.Type == agent.EventDone {
			c.onDone(handle, adapter, ev.Result)
		}
	})

	c.mu.Lock()
	if _, exists := c.sessions[handle.ID()]; exists {
		c.logger.Debug("Replacing live session entry", "session_id", handle.ID())
	}
	c.sessions[handle.ID()] = &session{handle: handle, adapter: adapter, cancel: cancel}
	c.mu.Unlock()

	return handle
}

// onDone persists the terminal checkpoint and emits agent_done.
func (c *Coordinator) onDone(handle *agent.Handle, adapter agent.Adapter, result *agent.Result) {
	ctx := context.Background()

	if c.cfg.SnapshotStore != nil {
		cp := handle.Checkpoint()
		cp.AdapterConfig = protocol.AdapterConfig{
			Provider: adapter.ModelProvider(),
			Model:    adapter.ModelName(),
		}
		if err := c.cfg.SnapshotStore.Save(ctx, cp); err != nil {
			c.logger.Error("Failed to persist checkpoint", "session_id", handle.ID(), "error", err)
		} else {
			c.cfg.Observability.RecordCheckpoint(ctx)
		}
	}

	c.emit(Event{
		Type:      EventAgentDone,
		Timestamp: time.Now(),
		SessionID: handle.ID(),
		Result:    result,
	})
	c.cfg.Observability.RecordFinished(ctx)
}

// Get returns a session handle by id.
func (c *Coordinator) Get(sessionID string) (*agent.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.handle, true
}

// GetAdapter returns the adapter that created a session.
func (c *Coordinator) GetAdapter(sessionID string) (agent.Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.adapter, true
}

// List returns the session handles matching the filter.
func (c *Coordinator) List(filter Filter) []*agent.Handle {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var out []*agent.Handle
	for _, s := range sessions {
		if matches(s.handle, filter) {
			out = append(out, s.handle)
		}
	}
	return out
}

func matches(h *agent.Handle, f Filter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		status := h.Status()
		for _, want := range f.Statuses {
			if status == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(f.Tags) > 0 {
		ok := false
		for _, tag := range h.Instance().Tags() {
			for _, want := range f.Tags {
				if tag == want {
					ok = true
				}
			}
		}
		if !ok {
			return false
		}
	}

	if f.ParentID != "" && h.Instance().ParentID() != f.ParentID {
		return false
	}
	return true
}

// ListCheckpoints enumerates stored checkpoint ids, empty without a
// store.
func (c *Coordinator) ListCheckpoints(ctx context.Context) ([]string, error) {
	if c.cfg.SnapshotStore == nil {
		return nil, nil
	}
	return c.cfg.SnapshotStore.List(ctx)
}

// LoadCheckpoint loads one checkpoint, nil without a store or when
// absent.
func (c *Coordinator) LoadCheckpoint(ctx context.Context, sessionID string) (*protocol.Checkpoint, error) {
	if c.cfg.SnapshotStore == nil {
		return nil, nil
	}
	return c.cfg.SnapshotStore.Load(ctx, sessionID)
}

// Subscribe registers a handler for coordinator events.
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	return c.events.Subscribe(fn)
}

// Events returns a live channel of coordinator events.
func (c *Coordinator) Events() <-chan Event {
	return c.events.Listen()
}

func (c *Coordinator) emit(ev Event) {
	c.events.Emit(ev)
}

func (c *Coordinator) requireRunning(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return fmt.Errorf("cannot %s: coordinator is %s", op, c.status)
	}
	return nil
}

func (c *Coordinator) loadSkills() ([]guidance.Skill, error) {
	if c.cfg.SkillsPath == "" {
		return nil, nil
	}
	skills, err := guidance.LoadSkills(c.cfg.SkillsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}
	return skills, nil
}
