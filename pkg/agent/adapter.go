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
	"log/slog"

	"github.com/kadirpekel/maestro/pkg/guidance"
	"github.com/kadirpekel/maestro/pkg/protocol"
	"github.com/kadirpekel/maestro/pkg/tool"
)

// ContextInjection carries injector-produced context into an adapter:
// a system prompt fragment on spawn, resume messages on continue.
type ContextInjection struct {
	SystemContext  string
	ResumeMessages []protocol.Message
}

// CreateConfig parameterises adapter.Create and adapter.Restore.
type CreateConfig struct {
	// SessionID is assigned by the coordinator on spawn. Adapters
	// generate one when empty (library use without a coordinator).
	SessionID string

	Guidance         *guidance.Context
	Task             string
	Limits           Limits
	Input            Input
	ParentID         string
	Tools            *tool.Registry
	Tags             []string
	Metadata         map[string]any
	Skills           []guidance.Skill
	ContextInjection *ContextInjection
	Logger           *slog.Logger
}

// Adapter is the model-and-tooling boundary. One adapter serves many
// sessions; each Create or Restore yields an independent instance.
// Implementers should prefer one adapter value per provider over deep
// type hierarchies.
type Adapter interface {
	Name() string
	ModelProvider() string
	ModelName() string

	// Create builds a fresh instance.
	Create(ctx context.Context, cfg CreateConfig) (*Instance, error)

	// Restore rebuilds an instance from a checkpoint, preserving its id,
	// creation time, and turn count.
	Restore(ctx context.Context, cp *protocol.Checkpoint, cfg CreateConfig) (*Instance, error)
}
