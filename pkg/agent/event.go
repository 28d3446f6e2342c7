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
	"time"

	"github.com/kadirpekel/maestro/pkg/step"
)

// EventType tags the session event union.
type EventType string

const (
	EventStatus       EventType = "status"
	EventOutput       EventType = "output"
	EventThought      EventType = "thought"
	EventToolStart    EventType = "tool_start"
	EventToolProgress EventType = "tool_progress"
	EventToolEnd      EventType = "tool_end"
	EventSuspended    EventType = "suspended"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one entry in a session's event stream. Only the fields of the
// tagged variant are set. Within one session, consumers observe events in
// emission order; the first done event is terminal.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`

	// status
	Status Status `json:"status,omitempty"`

	// output
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// thought
	Content string `json:"content,omitempty"`

	// tool_start / tool_progress / tool_end
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Progress   any            `json:"progress,omitempty"`
	Output     any            `json:"output,omitempty"`
	Err        string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`

	// suspended
	Pending []step.Request `json:"pending,omitempty"`

	// error
	Fatal bool `json:"fatal,omitempty"`

	// done
	Result *Result `json:"result,omitempty"`
}

func statusEvent(sessionID string, status Status) Event {
	return Event{Type: EventStatus, Timestamp: time.Now(), SessionID: sessionID, Status: status}
}

func doneEvent(sessionID string, result *Result) Event {
	return Event{Type: EventDone, Timestamp: time.Now(), SessionID: sessionID, Result: result}
}
