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

	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// BackendEventType tags the adapter-native event union a backend streams
// during a turn.
type BackendEventType string

const (
	BackendAgentStart    BackendEventType = "agent_start"
	BackendMessageUpdate BackendEventType = "message_update"
	BackendToolStart     BackendEventType = "tool_execution_start"
	BackendToolUpdate    BackendEventType = "tool_execution_update"
	BackendToolEnd       BackendEventType = "tool_execution_end"
	BackendTurnEnd       BackendEventType = "turn_end"
	BackendAgentEnd      BackendEventType = "agent_end"
)

// MessageUpdateKind refines BackendMessageUpdate.
type MessageUpdateKind string

const (
	UpdateTextDelta     MessageUpdateKind = "text_delta"
	UpdateTextEnd       MessageUpdateKind = "text_end"
	UpdateThinkingDelta MessageUpdateKind = "thinking_delta"
)

// BackendEvent is one adapter-native event. The session runtime
// translates these to session events; unknown types are dropped.
type BackendEvent struct {
	Type BackendEventType
	Kind MessageUpdateKind

	Delta string

	ToolCallID string
	ToolName   string
	Input      map[string]any
	Progress   any
	Output     any
	IsError    bool
	ErrorText  string
}

// Harness is what the runtime hands a backend for the duration of one
// prompt: the event sink and the tool executor.
type Harness struct {
	// Emit pushes an adapter event into the run's queue. Non-blocking for
	// any reasonably consumed run.
	Emit func(BackendEvent)

	// RunTool executes a tool with a durable step context. A nil result
	// means the tool suspended; the backend must end the turn without
	// recording a tool result.
	RunTool func(ctx context.Context, call ToolCall) *tool.Result
}

// Backend is one model conversation: the model-streaming side of a
// session. Implementations translate between their native protocol and
// the checkpoint message schema through a protocol.Codec.
type Backend interface {
	// Prompt runs one turn, streaming events through the harness and
	// invoking tools through it. An empty message replays the current
	// turn after a suspension was resolved. Blocks until the turn ends.
	Prompt(ctx context.Context, message string, h *Harness) error

	// Steer forwards a follow-up message into a running turn, reporting
	// whether the backend accepted it under its steering policy.
	Steer(message string) bool

	// Abort cancels in-flight work. Cooperative.
	Abort()

	// Messages returns the transcript recorded so far, in checkpoint
	// schema. The transcript never shrinks.
	Messages() []protocol.Message

	// LastStopReason reports why the final recorded message stopped;
	// "error" marks a terminal backend failure.
	LastStopReason() string
}
