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

package protocol

import "fmt"

// Codec transforms between the checkpoint message schema and an adapter's
// native message type N. Adapters own their codec; the coordinator and
// snapshot store only ever see Messages.
type Codec[N any] interface {
	Encode(Message) (N, error)
	Decode(N) (Message, error)
}

// EncodeAll converts a transcript to native messages, preserving order.
func EncodeAll[N any](c Codec[N], msgs []Message) ([]N, error) {
	out := make([]N, 0, len(msgs))
	for i, m := range msgs {
		n, err := c.Encode(m)
		if err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// DecodeAll converts native messages back to the checkpoint schema,
// preserving order.
func DecodeAll[N any](c Codec[N], native []N) ([]Message, error) {
	out := make([]Message, 0, len(native))
	for i, n := range native {
		m, err := c.Decode(n)
		if err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
