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

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// MemoryStore keeps checkpoints in process memory. Checkpoints are deep
// cloned on both save and load so callers cannot mutate stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*protocol.Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*protocol.Checkpoint)}
}

// Save stores a deep clone of the checkpoint.
func (s *MemoryStore) Save(_ context.Context, cp *protocol.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("cannot save nil checkpoint")
	}
	if cp.Session.ID == "" {
		return fmt.Errorf("checkpoint session id is required")
	}

	clone, err := cloneCheckpoint(cp)
	if err != nil {
		return fmt.Errorf("failed to clone checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Session.ID] = clone
	return nil
}

// Load returns a deep clone of the stored checkpoint, or nil if absent.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*protocol.Checkpoint, error) {
	s.mu.RLock()
	cp, ok := s.checkpoints[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(cp)
}

// Delete removes a checkpoint, reporting whether it existed.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.checkpoints[sessionID]
	delete(s.checkpoints, sessionID)
	return ok, nil
}

// List returns the stored session ids in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a checkpoint is stored for the session.
func (s *MemoryStore) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.checkpoints[sessionID]
	return ok, nil
}

// cloneCheckpoint deep copies through JSON, the same normalization the
// file store applies.
func cloneCheckpoint(cp *protocol.Checkpoint) (*protocol.Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var clone protocol.Checkpoint
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
