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

package step

import (
	"context"
	"time"
)

// Hooks observe step lifecycle inside one tool invocation. Any field may
// be nil.
type Hooks struct {
	OnStepStart    func(stepID string)
	OnStepEnd      func(stepID string)
	OnStepMemoized func(stepID string)
	OnSuspended    func(Request)
}

// Context is the durable step context handed to exactly one tool
// invocation. It is not safe for concurrent use; a tool runs its steps
// sequentially.
type Context struct {
	toolCallID string
	toolName   string

	prior     map[string]CompletedStep
	completed []CompletedStep
	ran       map[string]bool

	resume         *ResumeData
	resumeConsumed bool

	hooks Hooks
	now   func() time.Time
}

// New creates a Context seeded with the completed steps of prior runs and,
// when the invocation is being replayed after a resolution, the resume
// data for the previously suspended step.
func New(toolCallID, toolName string, prior []CompletedStep, resume *ResumeData, hooks Hooks) *Context {
	c := &Context{
		toolCallID: toolCallID,
		toolName:   toolName,
		prior:      make(map[string]CompletedStep, len(prior)),
		completed:  append([]CompletedStep(nil), prior...),
		ran:        make(map[string]bool),
		resume:     resume,
		hooks:      hooks,
		now:        time.Now,
	}
	for _, s := range prior {
		c.prior[s.StepID] = s
	}
	return c
}

// ToolCallID returns the id of the tool call this context belongs to.
func (c *Context) ToolCallID() string { return c.toolCallID }

// Completed returns all completed steps known to this context: the prior
// ones it was seeded with plus any recorded during this run, in order.
func (c *Context) Completed() []CompletedStep {
	return append([]CompletedStep(nil), c.completed...)
}

// Run executes a named step at most once across the lifetime of the tool
// invocation.
//
// A step id seen in a prior run returns the recorded result without
// invoking fn. A step id matching injected resume data returns the
// resolved value and records it. A step id repeated within this run fails
// with DuplicateStepError. Otherwise fn runs and its result is recorded.
// A Suspension raised by fn propagates unchanged and is not recorded.
func (c *Context) Run(ctx context.Context, stepID string, fn func(context.Context) (any, error)) (any, error) {
	if prev, ok := c.prior[stepID]; ok {
		if c.hooks.OnStepMemoized != nil {
			c.hooks.OnStepMemoized(stepID)
		}
		return prev.Result, nil
	}

	if c.resume != nil && !c.resumeConsumed && c.resume.StepID == stepID {
		return c.consumeResume()
	}

	if c.ran[stepID] {
		return nil, &DuplicateStepError{StepID: stepID}
	}
	c.ran[stepID] = true

	if c.hooks.OnStepStart != nil {
		c.hooks.OnStepStart(stepID)
	}

	result, err := fn(ctx)
	if err != nil {
		// A Suspension must not be recorded as completion; any other
		// error surfaces unchanged.
		return nil, err
	}

	c.record(stepID, result)
	if c.hooks.OnStepEnd != nil {
		c.hooks.OnStepEnd(stepID)
	}
	return result, nil
}

// WaitForUserInput suspends the tool until external user input arrives.
// The resolved input is returned on replay.
func (c *Context) WaitForUserInput(payload map[string]any) (any, error) {
	return c.suspend(KindUserInput, payload)
}

// WaitForApproval suspends the tool until an approval decision arrives.
func (c *Context) WaitForApproval(payload map[string]any) (bool, error) {
	v, err := c.suspend(KindApproval, payload)
	if err != nil {
		return false, err
	}
	approved, _ := v.(bool)
	return approved, nil
}

// EventOptions carries optional settings for WaitForEvent.
type EventOptions struct {
	// TimeoutMs is enforced by whoever handles resolutions, not by the
	// runtime. Zero means no timeout.
	TimeoutMs int64
}

// WaitForEvent suspends the tool until the named external event fires.
func (c *Context) WaitForEvent(name string, opts *EventOptions) (any, error) {
	payload := map[string]any{"event": name}
	if opts != nil && opts.TimeoutMs > 0 {
		payload["timeout_ms"] = opts.TimeoutMs
	}
	return c.suspend(KindEvent, payload)
}

// Sleep suspends the tool for at least the given wall-clock delay.
func (c *Context) Sleep(d time.Duration) error {
	_, err := c.suspend(KindSleep, map[string]any{"duration_ms": d.Milliseconds()})
	return err
}

// suspend raises a Suspension under the sentinel step id, or returns the
// resolved value when this run is a replay of an answered suspension.
func (c *Context) suspend(kind RequestKind, payload map[string]any) (any, error) {
	stepID := SuspendStepID(c.toolCallID)

	if prev, ok := c.prior[stepID]; ok {
		if c.hooks.OnStepMemoized != nil {
			c.hooks.OnStepMemoized(stepID)
		}
		return prev.Result, nil
	}

	if c.resume != nil && !c.resumeConsumed && c.resume.StepID == stepID {
		return c.consumeResume()
	}

	req := Request{
		ToolCallID:  c.toolCallID,
		ToolName:    c.toolName,
		Kind:        kind,
		Payload:     payload,
		SuspendedAt: c.now(),
	}
	if c.hooks.OnSuspended != nil {
		c.hooks.OnSuspended(req)
	}
	return nil, &Suspension{StepID: stepID, Request: req}
}

func (c *Context) consumeResume() (any, error) {
	c.resumeConsumed = true
	if c.resume.Cancelled {
		return nil, &CancelledError{ToolCallID: c.toolCallID, Reason: c.resume.Reason}
	}
	c.record(c.resume.StepID, c.resume.Result)
	c.prior[c.resume.StepID] = c.completed[len(c.completed)-1]
	return c.resume.Result, nil
}

func (c *Context) record(stepID string, result any) {
	c.completed = append(c.completed, CompletedStep{
		StepID:      stepID,
		Result:      result,
		CompletedAt: c.now(),
	})
}
