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

package protocol

import (
	"time"

	"github.com/kadirpekel/maestro/pkg/step"
)

// Metrics aggregates the measurable outcome of a session so far.
type Metrics struct {
	DurationMs int64 `json:"duration_ms"`
	Turns      int   `json:"turns"`
	ToolCalls  int   `json:"tool_calls"`
	TokensUsed int   `json:"tokens_used,omitempty"`
}

// SessionCheckpoint carries session identity and bookkeeping.
type SessionCheckpoint struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Task      string         `json:"task,omitempty"`
	Metrics   Metrics        `json:"metrics"`
}

// GuidanceState captures the guidance side of a checkpoint.
type GuidanceState struct {
	GuidancePath string         `json:"guidance_path,omitempty"`
	MemoryWrites []string       `json:"memory_writes,omitempty"`
	SystemState  map[string]any `json:"system_state,omitempty"`
}

// AdapterConfig identifies the model behind a checkpoint. Provider and
// Model are injected by the coordinator from the adapter identity, so
// instances never need to know their coordinator-visible naming.
type AdapterConfig struct {
	Provider      string         `json:"provider,omitempty"`
	Model         string         `json:"model,omitempty"`
	ThinkingLevel string         `json:"thinking_level,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Checkpoint is a durable, provider-agnostic snapshot of one session,
// sufficient to restart it elsewhere.
type Checkpoint struct {
	Timestamp      time.Time             `json:"timestamp"`
	AdapterName    string                `json:"adapter_name"`
	Session        SessionCheckpoint     `json:"session"`
	Guidance       GuidanceState         `json:"guidance"`
	Messages       []Message             `json:"messages"`
	AdapterConfig  AdapterConfig         `json:"adapter_config"`
	ToolExecutions []step.ExecutionState `json:"tool_executions,omitempty"`
}
