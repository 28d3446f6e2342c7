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

// Package agent implements the per-session runtime.
//
// An Instance is one cooperative state machine interleaving
// model-streaming turns with tool invocations. Tools that need external
// input suspend the session; resolutions resume it without re-executing
// completed work. A Handle is the stable external facade over a running
// instance: event stream, control operations, checkpointing, and wait.
package agent

import (
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusWaiting      Status = "waiting"
	StatusPaused       Status = "paused"
	StatusCompleting   Status = "completing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTerminated   Status = "terminated"
	StatusAborted      Status = "aborted"
)

// Terminal reports whether the status is final. A session's status is
// monotone once terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated, StatusAborted:
		return true
	}
	return false
}

// Input is one unit of caller input to a session. At least one field is
// populated for a useful turn.
type Input struct {
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Empty reports whether the input carries nothing.
func (i Input) Empty() bool {
	return i.Message == "" && len(i.Context) == 0
}

// Limits bounds a session's execution. Enforcement is the backend's
// responsibility; zero values mean unlimited.
type Limits struct {
	MaxTurns    int           `json:"max_turns,omitempty"`
	MaxDuration time.Duration `json:"max_duration,omitempty"`
}

// Result is the terminal outcome of a session.
type Result struct {
	Status  Status           `json:"status"`
	Output  string           `json:"output,omitempty"`
	Error   string           `json:"error,omitempty"`
	Metrics protocol.Metrics `json:"metrics"`
}

// ToolCall is a backend's request to invoke a tool.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}
