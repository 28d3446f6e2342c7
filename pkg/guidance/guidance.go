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

// Package guidance loads the markdown bundles that steer a session.
//
// A guidance bundle is a directory of markdown documents (soul,
// instructions, tasks). The loader is read-only; caches are private to
// one Context. Memory writes accumulated during a session are carried
// into checkpoints, not written back to the bundle.
package guidance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Well-known documents assembled first, in this order.
var primaryDocs = []string{"soul.md", "instructions.md"}

// Context is one loaded guidance bundle plus the session's accumulated
// memory writes and system state.
type Context struct {
	path string

	mu           sync.RWMutex
	docs         map[string]string
	memoryWrites []string
	systemState  map[string]any
}

// Load reads every markdown document at the root of path.
func Load(path string) (*Context, error) {
	if path == "" {
		return nil, fmt.Errorf("guidance path is required")
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guidance bundle %s: %w", path, err)
	}

	docs := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read guidance document %s: %w", e.Name(), err)
		}
		docs[e.Name()] = string(data)
	}

	return &Context{
		path:        path,
		docs:        docs,
		systemState: make(map[string]any),
	}, nil
}

// Path returns the bundle root.
func (c *Context) Path() string { return c.path }

// Document returns a single document's content by filename.
func (c *Context) Document(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[name]
	return doc, ok
}

// Documents returns the loaded document names in assembly order.
func (c *Context) Documents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orderedNames()
}

// SystemPrompt assembles the bundle into one system prompt: soul and
// instructions first, remaining documents in name order.
func (c *Context) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sections []string
	for _, name := range c.orderedNames() {
		if doc := strings.TrimSpace(c.docs[name]); doc != "" {
			sections = append(sections, doc)
		}
	}
	return strings.Join(sections, "\n\n")
}

func (c *Context) orderedNames() []string {
	var rest []string
	for name := range c.docs {
		if !isPrimary(name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	var names []string
	for _, name := range primaryDocs {
		if _, ok := c.docs[name]; ok {
			names = append(names, name)
		}
	}
	return append(names, rest...)
}

func isPrimary(name string) bool {
	for _, p := range primaryDocs {
		if name == p {
			return true
		}
	}
	return false
}

// RecordMemoryWrite appends a memory write produced during the session.
func (c *Context) RecordMemoryWrite(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryWrites = append(c.memoryWrites, entry)
}

// MemoryWrites returns the accumulated memory writes.
func (c *Context) MemoryWrites() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.memoryWrites...)
}

// SetSystemState stores a key in the bundle's session-scoped state.
func (c *Context) SetSystemState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemState[key] = value
}

// SystemState returns a copy of the session-scoped state.
func (c *Context) SystemState() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.systemState))
	for k, v := range c.systemState {
		out[k] = v
	}
	return out
}

// Restore seeds memory writes and system state from a checkpoint.
func (c *Context) Restore(memoryWrites []string, systemState map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryWrites = append([]string(nil), memoryWrites...)
	c.systemState = make(map[string]any, len(systemState))
	for k, v := range systemState {
		c.systemState[k] = v
	}
}
