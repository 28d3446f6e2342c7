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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/protocol"
)

type opKind int

const (
	opTextDelta opKind = iota
	opTextEnd
	opThink
	opTool
	opFail
)

// Op is one scripted action inside a turn.
type Op struct {
	kind opKind
	text string
	call agent.ToolCall
}

// Turn is one scripted model turn.
type Turn []Op

// TextDelta emits a streaming text chunk.
func TextDelta(text string) Op { return Op{kind: opTextDelta, text: text} }

// TextEnd closes the streamed text and records the assistant message.
func TextEnd() Op { return Op{kind: opTextEnd} }

// Text emits one chunk and closes it: delta then end.
func Text(text string) []Op { return []Op{TextDelta(text), TextEnd()} }

// Think emits a thinking delta.
func Think(text string) Op { return Op{kind: opThink, text: text} }

// Tool invokes a tool through the session's durable executor.
func Tool(id, name string, input map[string]any) Op {
	return Op{kind: opTool, call: agent.ToolCall{ID: id, Name: name, Input: input}}
}

// Fail ends the turn with a terminal backend error.
func Fail(message string) Op { return Op{kind: opFail, text: message} }

// Ops flattens op groups into one turn.
func Ops(ops ...any) Turn {
	var turn Turn
	for _, op := range ops {
		switch v := op.(type) {
		case Op:
			turn = append(turn, v)
		case []Op:
			turn = append(turn, v...)
		}
	}
	return turn
}

// backend plays scripted turns for one session.
type backend struct {
	mu           sync.Mutex
	script       []Turn
	turnIdx      int
	resumeOp     int
	inTurn       bool
	messages     []message
	systemPrompt string
	stopReason   string
	aborted      bool
}

func newBackend(script []Turn) *backend {
	return &backend{script: script}
}

// Prompt plays one turn. An empty message after a suspension replays the
// current turn from the suspended op; the tool's memoized steps make the
// replay cheap.
func (b *backend) Prompt(ctx context.Context, msg string, h *agent.Harness) error {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return nil
	}
	if msg != "" {
		b.messages = append(b.messages, message{Role: roleUser, Text: msg, At: time.Now()})
	}

	turn, start := b.currentTurn(msg)
	// On replay the suspended tool op re-runs but its assistant tool_use
	// message is already in the transcript.
	replayedOp := -1
	if b.inTurn {
		replayedOp = start
	}
	b.mu.Unlock()

	h.Emit(agent.BackendEvent{Type: agent.BackendAgentStart})

	var text, thinking string
	for i := start; i < len(turn); i++ {
		if b.isAborted() || ctx.Err() != nil {
			return nil
		}

		op := turn[i]
		switch op.kind {
		case opTextDelta:
			h.Emit(agent.BackendEvent{Type: agent.BackendMessageUpdate, Kind: agent.UpdateTextDelta, Delta: op.text})
			text += op.text

		case opTextEnd:
			h.Emit(agent.BackendEvent{Type: agent.BackendMessageUpdate, Kind: agent.UpdateTextEnd})
			b.record(message{Role: roleAssistant, Text: text, Thinking: thinking, At: time.Now()})
			text, thinking = "", ""

		case opThink:
			h.Emit(agent.BackendEvent{Type: agent.BackendMessageUpdate, Kind: agent.UpdateThinkingDelta, Delta: op.text})
			thinking += op.text

		case opTool:
			h.Emit(agent.BackendEvent{
				Type:       agent.BackendToolStart,
				ToolCallID: op.call.ID,
				ToolName:   op.call.Name,
				Input:      op.call.Input,
			})
			if i != replayedOp {
				b.record(message{Role: roleAssistant, ToolUses: []toolUse{{ID: op.call.ID, Name: op.call.Name, Input: op.call.Input}}, At: time.Now()})
			}

			result := h.RunTool(ctx, op.call)
			if result == nil {
				// Suspended: end the turn without a tool result; replay
				// restarts at this op.
				b.mu.Lock()
				b.inTurn = true
				b.resumeOp = i
				b.mu.Unlock()
				return nil
			}

			ev := agent.BackendEvent{
				Type:       agent.BackendToolEnd,
				ToolCallID: op.call.ID,
				ToolName:   op.call.Name,
				Output:     result.Output,
			}
			content := stringify(result.Output)
			if result.IsError() {
				ev.IsError = true
				ev.ErrorText = result.Error
				content = result.Error
			}
			h.Emit(ev)
			b.record(message{
				Role:       roleTool,
				Text:       content,
				ToolCallID: op.call.ID,
				ToolName:   op.call.Name,
				IsError:    result.IsError(),
				At:         time.Now(),
			})

		case opFail:
			b.mu.Lock()
			b.messages = append(b.messages, message{Role: roleAssistant, Text: op.text, StopReason: "error", At: time.Now()})
			b.stopReason = "error"
			b.mu.Unlock()
			return nil
		}
	}

	h.Emit(agent.BackendEvent{Type: agent.BackendTurnEnd})

	b.mu.Lock()
	b.turnIdx++
	b.inTurn = false
	b.resumeOp = 0
	b.mu.Unlock()

	h.Emit(agent.BackendEvent{Type: agent.BackendAgentEnd})
	return nil
}

// currentTurn picks the scripted turn to play, or synthesizes an echo
// turn when the script is exhausted. Caller holds b.mu.
func (b *backend) currentTurn(msg string) (Turn, int) {
	if b.inTurn && b.turnIdx < len(b.script) {
		return b.script[b.turnIdx], b.resumeOp
	}
	if b.turnIdx < len(b.script) {
		return b.script[b.turnIdx], 0
	}
	if msg != "" {
		return Ops(Text(msg)), 0
	}
	return nil, 0
}

// Steer accepts follow-up messages unconditionally: the message joins the
// transcript for the model's next read.
func (b *backend) Steer(msg string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	b.messages = append(b.messages, message{Role: roleUser, Text: msg, At: time.Now()})
	return true
}

func (b *backend) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
}

func (b *backend) isAborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

func (b *backend) record(m message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, m)
}

// Messages returns the transcript in checkpoint schema.
func (b *backend) Messages() []protocol.Message {
	b.mu.Lock()
	native := append([]message(nil), b.messages...)
	b.mu.Unlock()

	msgs, err := protocol.DecodeAll[message](codec{}, native)
	if err != nil {
		// The native schema is a superset; decoding cannot fail for
		// messages this backend records.
		panic(fmt.Sprintf("memadapter transcript decode: %v", err))
	}
	return msgs
}

func (b *backend) LastStopReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopReason
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
