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

package memadapter

import (
	"fmt"
	"time"

	"github.com/kadirpekel/maestro/pkg/protocol"
)

// Native roles.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// toolUse is a native tool invocation block.
type toolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// message is the adapter-native transcript entry.
type message struct {
	Role       string    `json:"role"`
	Text       string    `json:"text,omitempty"`
	Thinking   string    `json:"thinking,omitempty"`
	ToolUses   []toolUse `json:"tool_uses,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	At         time.Time `json:"at"`
}

// codec transforms between the checkpoint message schema and the
// adapter-native schema.
type codec struct{}

func (codec) Encode(m protocol.Message) (message, error) {
	native := message{
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		IsError:    m.IsError,
		At:         m.Timestamp,
	}

	switch m.Role {
	case protocol.RoleUser:
		native.Role = roleUser
	case protocol.RoleAssistant:
		native.Role = roleAssistant
	case protocol.RoleToolResult:
		native.Role = roleTool
	default:
		return message{}, fmt.Errorf("unknown role %q", m.Role)
	}

	for _, p := range m.Content {
		switch p.Type {
		case protocol.PartText:
			native.Text += p.Text
		case protocol.PartThinking:
			native.Thinking += p.Text
		case protocol.PartToolUse:
			native.ToolUses = append(native.ToolUses, toolUse{ID: p.ID, Name: p.Name, Input: p.Input})
		case protocol.PartImage:
			// Images are not representable natively; preserved as a text
			// placeholder so transcripts keep their shape.
			native.Text += fmt.Sprintf("[image %s]", p.MediaType)
		}
	}
	return native, nil
}

func (codec) Decode(n message) (protocol.Message, error) {
	m := protocol.Message{
		Timestamp:  n.At,
		ToolCallID: n.ToolCallID,
		ToolName:   n.ToolName,
		IsError:    n.IsError,
	}

	switch n.Role {
	case roleUser:
		m.Role = protocol.RoleUser
	case roleAssistant:
		m.Role = protocol.RoleAssistant
	case roleTool:
		m.Role = protocol.RoleToolResult
	default:
		return protocol.Message{}, fmt.Errorf("unknown native role %q", n.Role)
	}

	if n.Thinking != "" {
		m.Content = append(m.Content, protocol.ThinkingPart(n.Thinking))
	}
	if n.Text != "" || len(n.ToolUses) == 0 && n.Thinking == "" {
		m.Content = append(m.Content, protocol.TextPart(n.Text))
	}
	for _, tu := range n.ToolUses {
		m.Content = append(m.Content, protocol.ToolUsePart(tu.ID, tu.Name, tu.Input))
	}
	return m, nil
}
