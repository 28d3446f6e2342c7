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
	"sync"
	"time"

	"github.com/kadirpekel/maestro/pkg/bus"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/step"
)

// Handle is the stable external facade over a running session. It owns
// the event bus the instance emits on, buffers history for late
// consumers, and resolves waiters on the terminal event.
type Handle struct {
	inst *Instance
	bus  *bus.Bus[Event]

	mu       sync.Mutex
	history  []Event
	result   *Result
	finished chan struct{}

	startOnce sync.Once
	cancelRun context.CancelFunc
}

// NewHandle wraps an instance. The run loop starts on Start.
func NewHandle(inst *Instance) *Handle {
	return &Handle{
		inst:     inst,
		bus:      bus.New[Event](),
		finished: make(chan struct{}),
	}
}

// ID returns the session id.
func (h *Handle) ID() string { return h.inst.ID() }

// Instance exposes the underlying instance.
func (h *Handle) Instance() *Instance { return h.inst }

// Status returns the session's current status.
func (h *Handle) Status() Status { return h.inst.Status() }

// Start schedules the run loop asynchronously. Idempotent.
func (h *Handle) Start() {
	h.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelRun = cancel
		events := h.inst.Run(ctx)
		go func() {
			for ev := range events {
				h.emit(ev)
			}
		}()
	})
}

// Subscribe registers a handler for every future event. The returned
// function cancels the subscription.
func (h *Handle) Subscribe(fn func(Event)) func() {
	return h.bus.Subscribe(fn)
}

// Events yields the session's historical events first, then live events,
// terminating after the first done event.
func (h *Handle) Events() <-chan Event {
	h.mu.Lock()
	history := append([]Event(nil), h.history...)
	live := h.bus.Listen()
	h.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		for _, ev := range history {
			out <- ev
			if ev.Type == EventDone {
				return
			}
		}
		for ev := range live {
			out <- ev
			if ev.Type == EventDone {
				return
			}
		}
	}()
	return out
}

// Wait blocks until the session reaches a terminal result.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	h.mu.Lock()
	if h.result != nil {
		result := h.result
		h.mu.Unlock()
		return result, nil
	}
	h.mu.Unlock()

	select {
	case <-h.finished:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send queues input for the session.
func (h *Handle) Send(input Input) { h.inst.Send(input) }

// Pause suspends event flow without cancelling the model request.
func (h *Handle) Pause() { h.inst.Pause() }

// Resume releases a pause.
func (h *Handle) Resume() { h.inst.Resume() }

// Abort cancels the session cooperatively.
func (h *Handle) Abort() { h.inst.Abort() }

// Resolve answers pending suspensions.
func (h *Handle) Resolve(resolutions []step.Resolution) { h.inst.Resolve(resolutions) }

// PendingRequests returns the session's pending suspensions.
func (h *Handle) PendingRequests() []step.Request { return h.inst.PendingRequests() }

// Checkpoint snapshots the session.
func (h *Handle) Checkpoint() *protocol.Checkpoint { return h.inst.Checkpoint() }

// Terminate short-circuits the session: it marks the instance terminated,
// synthesizes the terminal done event with current metrics, and resolves
// waiters. Safe to call repeatedly.
func (h *Handle) Terminate(reason string) {
	h.mu.Lock()
	if h.result != nil {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if reason == "" {
		reason = "Agent terminated"
	}
	h.inst.Terminate(reason)
	if h.cancelRun != nil {
		h.cancelRun()
	}

	h.emit(Event{Type: EventStatus, Timestamp: time.Now(), SessionID: h.ID(), Status: StatusTerminated})
	h.emit(doneEvent(h.ID(), &Result{
		Status:  StatusTerminated,
		Error:   reason,
		Metrics: h.inst.metrics(),
	}))
}

// emit appends to history and broadcasts. Events after the terminal done
// are dropped so terminal status is reached at most once. History append
// and broadcast happen under one lock so Events consumers see each event
// exactly once; subscriber handlers must not call back into the handle.
func (h *Handle) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result != nil {
		return
	}
	h.history = append(h.history, ev)
	done := ev.Type == EventDone
	if done {
		h.result = ev.Result
	}

	h.bus.Emit(ev)
	if done {
		h.bus.Complete()
		close(h.finished)
	}
}
