package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageTextConcatenatesTextParts(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Content: []Part{
			ThinkingPart("hmm"),
			TextPart("hello "),
			ToolUsePart("T1", "echo", map[string]any{"x": 1}),
			TextPart("world"),
		},
	}
	if got := m.Text(); got != "hello world" {
		t.Errorf("Text() = %q", got)
	}
}

func TestToolResultMessageShape(t *testing.T) {
	m := NewToolResultMessage("T1", "shell", "out", true)
	if m.Role != RoleToolResult || m.ToolCallID != "T1" || m.ToolName != "shell" || !m.IsError {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.Text() != "out" {
		t.Errorf("Text() = %q", m.Text())
	}
}

func TestPartJSONOmitsUnusedFields(t *testing.T) {
	data, err := json.Marshal(TextPart("hi"))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 || raw["type"] != "text" || raw["text"] != "hi" {
		t.Errorf("text part JSON = %v", raw)
	}
}

func TestCheckpointJSONRoundTrip(t *testing.T) {
	cp := Checkpoint{
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AdapterName: "mem",
		Session: SessionCheckpoint{
			ID:        "s1",
			CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
			Metrics:   Metrics{DurationMs: 100, Turns: 2, ToolCalls: 1},
		},
		Messages: []Message{
			NewUserMessage("hi"),
			NewAssistantMessage(ThinkingPart("let me think"), TextPart("hello")),
		},
		AdapterConfig: AdapterConfig{Provider: "test", Model: "echo-1"},
	}

	data, err := json.Marshal(cp)
	if err != nil {
		t.Fatal(err)
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatal(err)
	}
	if restored.Session.ID != "s1" || restored.Session.Metrics.Turns != 2 {
		t.Errorf("session lost in round trip: %+v", restored.Session)
	}
	if len(restored.Messages) != 2 || restored.Messages[1].Text() != "hello" {
		t.Errorf("messages lost in round trip: %+v", restored.Messages)
	}
	if restored.Messages[1].Content[0].Type != PartThinking {
		t.Errorf("part tagging lost: %+v", restored.Messages[1].Content)
	}
}
