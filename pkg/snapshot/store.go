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

// Package snapshot persists session checkpoints keyed by session id.
//
// Two implementations: an in-memory store for tests and ephemeral runs,
// and a file store writing one JSON document per session. Operations are
// independent per session id; concurrent saves for the same id are
// last-writer-wins.
package snapshot

import (
	"context"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// Store is the checkpoint persistence boundary.
type Store interface {
	// Save persists a checkpoint under its session id, replacing any
	// previous checkpoint for that session.
	Save(ctx context.Context, cp *protocol.Checkpoint) error

	// Load returns the checkpoint for a session, or nil (no error) when
	// none exists.
	Load(ctx context.Context, sessionID string) (*protocol.Checkpoint, error)

	// Delete removes a session's checkpoint, reporting whether one existed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// List enumerates the session ids with stored checkpoints.
	List(ctx context.Context) ([]string, error)

	// Exists reports whether a checkpoint exists for the session.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
