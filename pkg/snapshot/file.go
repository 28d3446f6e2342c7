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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// FileStore writes one pretty-printed JSON file per session under a
// directory. Filenames are the session id sanitised to [A-Za-z0-9_-]
// plus a ".json" suffix.
type FileStore struct {
	dir string

	mkdir sync.Once
	err   error
}

// NewFileStore creates a file store rooted at dir. The directory is
// created on first use.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Save writes the checkpoint to its session file.
func (s *FileStore) Save(_ context.Context, cp *protocol.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("cannot save nil checkpoint")
	}
	if cp.Session.ID == "" {
		return fmt.Errorf("checkpoint session id is required")
	}
	if err := s.ensureDir(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := s.path(cp.Session.ID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}

	slog.Debug("Saved checkpoint", "session_id", cp.Session.ID, "path", path)
	return nil
}

// Load reads a session's checkpoint, returning nil (no error) when the
// file does not exist.
func (s *FileStore) Load(_ context.Context, sessionID string) (*protocol.Checkpoint, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint for %s: %w", sessionID, err)
	}

	var cp protocol.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint for %s: %w", sessionID, err)
	}
	return &cp, nil
}

// Delete removes a session's checkpoint file.
func (s *FileStore) Delete(_ context.Context, sessionID string) (bool, error) {
	err := os.Remove(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete checkpoint for %s: %w", sessionID, err)
	}
	return true, nil
}

// List enumerates checkpoint files, stripping the ".json" suffix.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a checkpoint file exists for the session.
func (s *FileStore) Exists(_ context.Context, sessionID string) (bool, error) {
	_, err := os.Stat(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) ensureDir() error {
	s.mkdir.Do(func() {
		s.err = os.MkdirAll(s.dir, 0755)
	})
	if s.err != nil {
		return fmt.Errorf("failed to create snapshot dir %s: %w", s.dir, s.err)
	}
	return nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sanitizeKey(sessionID)+".json")
}

// sanitizeKey maps a session id onto a safe filename: characters outside
// [A-Za-z0-9_-] become underscores.
func sanitizeKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
