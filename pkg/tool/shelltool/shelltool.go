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

// Package shelltool executes shell commands as a durable tool.
//
// The command runs inside a memoized step, so a session replayed after a
// suspension or restart does not re-execute it. When approval is
// configured the tool suspends before running and resumes once the
// approval resolution arrives.
package shelltool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kadirpekel/maestro/pkg/tool"
)

// Params is the tool's input schema.
type Params struct {
	Command    string `json:"command" jsonschema:"title=Command,description=Shell command to execute"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"description=Working directory for the command"`
	TimeoutMs  int64  `json:"timeout_ms,omitempty" jsonschema:"description=Per-command timeout in milliseconds"`
}

// Config controls command validation and limits.
type Config struct {
	// AllowedCommands restricts the base command when non-empty.
	AllowedCommands []string

	// WorkingDirectory is the default working directory.
	WorkingDirectory string

	// MaxExecutionTime bounds a single command run.
	MaxExecutionTime time.Duration

	// RequireApproval suspends the session for approval before running.
	RequireApproval bool
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
}

// Tool executes shell commands.
type Tool struct {
	cfg Config
}

// New creates a shell tool.
func New(cfg Config) *Tool {
	cfg.SetDefaults()
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string        { return "shell" }
func (t *Tool) Description() string { return "Execute a shell command and return its combined output." }
func (t *Tool) Category() string    { return "system" }
func (t *Tool) CanSuspend() bool    { return t.cfg.RequireApproval }

func (t *Tool) Parameters() map[string]any {
	return tool.SchemaFor(&Params{})
}

// Execute validates the command, optionally waits for approval, then runs
// the command inside a memoized step.
func (t *Tool) Execute(ctx context.Context, input map[string]any, tc *tool.Context) (*tool.Result, error) {
	var params Params
	if err := tool.BindInput(input, &params); err != nil {
		return tool.Errorf("%v", err), nil
	}
	if params.Command == "" {
		return tool.Errorf("command parameter is required"), nil
	}
	if err := t.validateCommand(params.Command); err != nil {
		return tool.Errorf("%v", err), nil
	}

	if t.cfg.RequireApproval {
		approved, err := tc.Step.WaitForApproval(map[string]any{
			"action":      "shell",
			"command":     params.Command,
			"description": fmt.Sprintf("Run %q", params.Command),
		})
		if err != nil {
			return nil, err
		}
		if !approved {
			return tool.Errorf("command denied: %s", params.Command), nil
		}
	}

	output, err := tc.Step.Run(ctx, "exec", func(ctx context.Context) (any, error) {
		return t.run(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	out, _ := output.(map[string]any)
	if code := exitCode(out); code != 0 {
		return &tool.Result{
			Status:    "error",
			Error:     fmt.Sprintf("command exited with code %d", code),
			Details:   out,
			Retryable: true,
		}, nil
	}
	return &tool.Result{Status: "success", Output: out["output"], Details: out}, nil
}

func (t *Tool) run(ctx context.Context, params Params) (any, error) {
	timeout := t.cfg.MaxExecutionTime
	if d := time.Duration(params.TimeoutMs) * time.Millisecond; d > 0 && d < timeout {
		timeout = d
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := params.WorkingDir
	if dir == "" {
		dir = t.cfg.WorkingDirectory
	}

	cmd := exec.CommandContext(execCtx, "sh", "-c", params.Command)
	cmd.Dir = dir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	result := map[string]any{
		"output":      string(output),
		"duration_ms": elapsed.Milliseconds(),
		"exit_code":   0,
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result["exit_code"] = exitErr.ExitCode()
		} else {
			// Spawn failures (missing shell, cancelled context) are
			// runtime faults, not command exits.
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
	}
	return result, nil
}

// exitCode tolerates both live results (int) and results replayed from a
// JSON checkpoint (float64).
func exitCode(m map[string]any) int {
	switch v := m["exit_code"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (t *Tool) validateCommand(command string) error {
	if len(t.cfg.AllowedCommands) == 0 {
		return nil
	}
	base := command
	if fields := strings.Fields(command); len(fields) > 0 {
		base = fields[0]
	}
	for _, allowed := range t.cfg.AllowedCommands {
		if base == allowed {
			return nil
		}
	}
	return fmt.Errorf("command not allowed: %s (allowed: %v)", base, t.cfg.AllowedCommands)
}
