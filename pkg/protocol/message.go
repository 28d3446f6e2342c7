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

// Package protocol defines the provider-agnostic checkpoint schema.
//
// Messages and checkpoints written by one adapter can be restored by
// another: adapters translate between this schema and their native one
// through a Codec.
package protocol

import (
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// PartType tags the Part union.
type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartThinking PartType = "thinking"
	PartToolUse  PartType = "tool_use"
)

// Part is one content block of a message. Only the fields of the tagged
// variant are set. Only assistant messages carry thinking and tool_use
// parts.
type Part struct {
	Type PartType `json:"type"`

	// text, thinking
	Text string `json:"text,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// TextPart builds a text content block.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart builds an image content block with base64 data.
func ImagePart(mediaType, data string) Part {
	return Part{Type: PartImage, MediaType: mediaType, Data: data}
}

// ThinkingPart builds a thinking content block.
func ThinkingPart(text string) Part {
	return Part{Type: PartThinking, Text: text}
}

// ToolUsePart builds a tool invocation content block.
func ToolUsePart(id, name string, input map[string]any) Part {
	return Part{Type: PartToolUse, ID: id, Name: name, Input: input}
}

// Message is one entry in a session transcript. ToolCallID, ToolName and
// IsError are meaningful only on tool_result messages.
type Message struct {
	Role       Role      `json:"role"`
	Content    []Part    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
}

// NewUserMessage builds a user message with a single text part.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Part{TextPart(text)}, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message from parts.
func NewAssistantMessage(parts ...Part) Message {
	return Message{Role: RoleAssistant, Content: parts, Timestamp: time.Now()}
}

// NewToolResultMessage builds a tool_result message.
func NewToolResultMessage(toolCallID, toolName, content string, isError bool) Message {
	return Message{
		Role:       RoleToolResult,
		Content:    []Part{TextPart(content)},
		Timestamp:  time.Now(),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
