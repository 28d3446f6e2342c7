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

// Package inject assembles session context from pluggable providers.
//
// Injectors run in ascending order and contribute either fragments of the
// initial system prompt (on spawn) or resume messages (on continue). A
// failing injector is logged and skipped; the rest of the pipeline
// proceeds.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/maestro/pkg/guidance"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

// DefaultSeparator joins system context fragments.
const DefaultSeparator = "\n\n---\n\n"

// SessionInfo describes the session being spawned or continued.
type SessionInfo struct {
	SessionID    string
	GuidancePath string
	Guidance     *guidance.Context
	Task         string
	Tags         []string
	Metadata     map[string]any
	Timezone     string

	// Resuming is true on continue; Checkpoint then carries the restored
	// state.
	Resuming   bool
	Checkpoint *protocol.Checkpoint
}

// Injector contributes context to sessions. Either method may return its
// zero value to contribute nothing.
type Injector interface {
	Name() string
	Order() int
	InjectSystemContext(ctx context.Context, info *SessionInfo) (string, error)
	InjectResumeContext(ctx context.Context, info *SessionInfo) ([]protocol.Message, error)
}

// Registry is an ordered set of injectors.
type Registry struct {
	mu        sync.RWMutex
	injectors []Injector
	names     map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds an injector, rejecting duplicate names. Injectors run in
// ascending Order; ties keep registration order.
func (r *Registry) Register(in Injector) error {
	if in == nil || in.Name() == "" {
		return fmt.Errorf("injector name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[in.Name()] {
		return fmt.Errorf("injector %q already registered", in.Name())
	}
	r.names[in.Name()] = true
	r.injectors = append(r.injectors, in)
	sort.SliceStable(r.injectors, func(i, j int) bool {
		return r.injectors[i].Order() < r.injectors[j].Order()
	})
	return nil
}

// CollectSystemContext concatenates the non-empty system context
// fragments in order, joined by separator (DefaultSeparator when empty).
// Returns "" when every injector contributed nothing.
func (r *Registry) CollectSystemContext(ctx context.Context, info *SessionInfo, separator ...string) string {
	sep := DefaultSeparator
	if len(separator) > 0 && separator[0] != "" {
		sep = separator[0]
	}

	var fragments []string
	for _, in := range r.ordered() {
		fragment, err := invoke(in, func() (string, error) {
			return in.InjectSystemContext(ctx, info)
		})
		if err != nil {
			slog.Warn("Context injector failed, skipping", "injector", in.Name(), "error", err)
			continue
		}
		if fragment != "" {
			fragments = append(fragments, fragment)
		}
	}
	return strings.Join(fragments, sep)
}

// CollectResumeContext concatenates the injectors' resume messages in
// order.
func (r *Registry) CollectResumeContext(ctx context.Context, info *SessionInfo) []protocol.Message {
	var messages []protocol.Message
	for _, in := range r.ordered() {
		msgs, err := invoke(in, func() ([]protocol.Message, error) {
			return in.InjectResumeContext(ctx, info)
		})
		if err != nil {
			slog.Warn("Context injector failed, skipping", "injector", in.Name(), "error", err)
			continue
		}
		messages = append(messages, msgs...)
	}
	return messages
}

func (r *Registry) ordered() []Injector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Injector(nil), r.injectors...)
}

// invoke shields the pipeline from a panicking injector.
func invoke[T any](in Injector, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("injector %s panicked: %v", in.Name(), r)
		}
	}()
	return fn()
}
