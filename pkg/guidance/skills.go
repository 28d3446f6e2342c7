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

package guidance

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one loadable capability document: a SKILL.md file with YAML
// frontmatter naming and describing it.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
	Content     string `yaml:"-"`
}

// LoadSkills discovers skills under root: every direct subdirectory
// containing a SKILL.md. A malformed skill is logged and skipped.
func LoadSkills(root string) ([]Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read skills dir %s: %w", root, err)
	}

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		skill, err := parseSkill(data)
		if err != nil {
			slog.Warn("Skipping malformed skill", "path", path, "error", err)
			continue
		}
		if skill.Name == "" {
			skill.Name = e.Name()
		}
		skill.Path = path
		skills = append(skills, skill)
	}
	return skills, nil
}

// parseSkill splits YAML frontmatter (between "---" fences) from the
// markdown body.
func parseSkill(data []byte) (Skill, error) {
	var skill Skill
	content := string(data)

	if strings.HasPrefix(content, "---\n") {
		rest := content[len("---\n"):]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return skill, fmt.Errorf("unterminated frontmatter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), &skill); err != nil {
			return skill, fmt.Errorf("invalid frontmatter: %w", err)
		}
		content = strings.TrimPrefix(rest[end+len("\n---"):], "\n")
	}

	skill.Content = content
	return skill, nil
}
