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

package step

import (
	"errors"
	"fmt"
)

// Suspension is the typed signal a wait operation raises when a tool
// cannot make progress without external input. It travels up the tool's
// call stack as an error but is not a failure: the runtime catches it,
// records a SuspendedStep, and surfaces a pending Request.
type Suspension struct {
	StepID  string
	Request Request
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("tool %s suspended at step %s (%s)", s.Request.ToolName, s.StepID, s.Request.Kind)
}

// AsSuspension extracts a Suspension from an error chain.
func AsSuspension(err error) (*Suspension, bool) {
	var s *Suspension
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// DuplicateStepError reports a tool presenting the same step id twice in
// one run: a programming error in the tool, or replay divergence.
type DuplicateStepError struct {
	StepID string
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("duplicate step %q in one tool run", e.StepID)
}

// CancelledError is raised when a resolution cancels a suspension. It
// surfaces as a tool error, never as a session failure.
type CancelledError struct {
	ToolCallID string
	Reason     string
}

func (e *CancelledError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("suspension cancelled: %s", e.Reason)
	}
	return "suspension cancelled"
}

// TimeoutError reports a suspension that outlasted the timeout carried in
// its payload. The runtime does not enforce suspension timeouts and never
// returns this error: Resolution and ResumeData have no timeout outcome, so
// a resolver that gives up answers with Cancel, surfacing CancelledError.
type TimeoutError struct {
	ToolCallID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("suspension for tool call %s timed out", e.ToolCallID)
}
