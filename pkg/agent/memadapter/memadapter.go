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

// Package memadapter is a deterministic in-memory adapter.
//
// Sessions run scripted turns instead of calling a model: each turn is a
// sequence of ops (text deltas, thinking, tool calls, failures). Without
// a script the adapter echoes its input. Used by tests and by local runs
// that exercise the orchestrator without a model backend.
package memadapter

import (
	"context"

	"github.com/google/uuid"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

// Adapter creates scripted in-memory sessions.
type Adapter struct {
	name     string
	provider string
	model    string
	script   []Turn
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithName overrides the adapter name.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// WithModel overrides the reported provider and model.
func WithModel(provider, model string) Option {
	return func(a *Adapter) { a.provider = provider; a.model = model }
}

// WithScript installs the turns sessions will play. Without a script,
// sessions echo their input.
func WithScript(turns ...Turn) Option {
	return func(a *Adapter) { a.script = turns }
}

// New creates an in-memory adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{name: "mem", provider: "test", model: "echo-1"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string          { return a.name }
func (a *Adapter) ModelProvider() string { return a.provider }
func (a *Adapter) ModelName() string     { return a.model }

// Create builds a fresh scripted instance.
func (a *Adapter) Create(_ context.Context, cfg agent.CreateConfig) (*agent.Instance, error) {
	b := newBackend(a.script)
	if cfg.ContextInjection != nil {
		b.systemPrompt = cfg.ContextInjection.SystemContext
	} else if cfg.Guidance != nil {
		b.systemPrompt = cfg.Guidance.SystemPrompt()
	}

	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	return agent.NewInstance(agent.InstanceConfig{
		ID:          id,
		AdapterName: a.name,
		Guidance:    cfg.Guidance,
		Tools:       cfg.Tools,
		Task:        cfg.Task,
		Tags:        cfg.Tags,
		Metadata:    cfg.Metadata,
		ParentID:    cfg.ParentID,
		Skills:      cfg.Skills,
		Input:       cfg.Input,
		Backend:     b,
		Logger:      cfg.Logger,
	}), nil
}

// Restore rebuilds an instance from a checkpoint: the transcript is
// seeded from the checkpoint messages plus any injector-provided resume
// messages, and id, creation time, and turn count are preserved.
func (a *Adapter) Restore(_ context.Context, cp *protocol.Checkpoint, cfg agent.CreateConfig) (*agent.Instance, error) {
	b := newBackend(a.script)
	b.turnIdx = cp.Session.Metrics.Turns

	seed := append([]protocol.Message(nil), cp.Messages...)
	if cfg.ContextInjection != nil {
		seed = append(seed, cfg.ContextInjection.ResumeMessages...)
	}
	native, err := protocol.EncodeAll[message](codec{}, seed)
	if err != nil {
		return nil, err
	}
	b.messages = native

	task := cfg.Task
	if task == "" {
		task = cp.Session.Task
	}
	tags := cfg.Tags
	if tags == nil {
		tags = cp.Session.Tags
	}

	return agent.NewInstance(agent.InstanceConfig{
		ID:             cp.Session.ID,
		AdapterName:    a.name,
		CreatedAt:      cp.Session.CreatedAt,
		TurnCount:      cp.Session.Metrics.Turns,
		ToolCalls:      cp.Session.Metrics.ToolCalls,
		TokensUsed:     cp.Session.Metrics.TokensUsed,
		Guidance:       cfg.Guidance,
		Tools:          cfg.Tools,
		Task:           task,
		Tags:           tags,
		Metadata:       cp.Session.Metadata,
		ParentID:       cp.Session.ParentID,
		Skills:         cfg.Skills,
		ToolExecutions: cp.ToolExecutions,
		Input:          cfg.Input,
		Backend:        b,
		Logger:         cfg.Logger,
	}), nil
}
