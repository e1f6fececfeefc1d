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

// Package controltool provides the built-in control-flow tools an LLM can
// call to steer its own invocation: exit_loop ends a Loop composite agent,
// escalate bubbles control up to a parent agent, and transfer_to_<agent>
// hands the invocation to a named sibling. Each tool's name is recognized
// by the LLM agent runtime, which translates the call into the matching
// Event.Actions field rather than the tool itself mutating shared state.
package controltool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-adk/adk/adk/tool"
)

// ExitLoopName is the reserved tool name an agent calls to terminate the
// enclosing Loop composite agent.
const ExitLoopName = "exit_loop"

// EscalateName is the reserved tool name an agent calls to escalate control
// to its parent.
const EscalateName = "escalate"

// TransferToPrefix prefixes the reserved tool name used to hand control to
// a named sibling agent, e.g. "transfer_to_researcher".
const TransferToPrefix = "transfer_to_"

// exitLoop implements tool.Tool for ExitLoopName.
type exitLoop struct{}

// NewExitLoop builds the exit_loop control tool.
func NewExitLoop() *exitLoop { return &exitLoop{} }

func (*exitLoop) Name() string        { return ExitLoopName }
func (*exitLoop) Description() string { return "Exits the reasoning loop. Call this when your task is complete and you have a final answer." }
func (*exitLoop) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (*exitLoop) IsLongRunning() bool { return false }
func (*exitLoop) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"status": "completed"})
}

// escalate implements tool.Tool for EscalateName.
type escalate struct{}

// NewEscalate builds the escalate control tool.
func NewEscalate() *escalate { return &escalate{} }

func (*escalate) Name() string        { return EscalateName }
func (*escalate) Description() string { return "Escalates to a higher-level agent. Call this when you need help, are stuck, or the task is outside your capabilities." }
func (*escalate) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why you are escalating"},
		},
		"required": []string{"reason"},
	}
}
func (*escalate) IsLongRunning() bool { return false }
func (*escalate) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var parsed struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(args, &parsed)
	if parsed.Reason == "" {
		parsed.Reason = "no reason provided"
	}
	return json.Marshal(map[string]string{"status": "escalated", "reason": parsed.Reason})
}

// transferTo implements tool.Tool for "transfer_to_<agentName>".
type transferTo struct {
	agentName   string
	description string
}

// NewTransferTo builds a transfer_to_<agentName> control tool.
func NewTransferTo(agentName, description string) *transferTo {
	return &transferTo{agentName: agentName, description: description}
}

func (t *transferTo) Name() string { return TransferToPrefix + t.agentName }
func (t *transferTo) Description() string {
	if t.description != "" {
		return t.description
	}
	return "Transfers control to the " + t.agentName + " agent."
}
func (t *transferTo) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{"type": "string", "description": "What you want the " + t.agentName + " agent to do"},
		},
		"required": []string{"request"},
	}
}
func (*transferTo) IsLongRunning() bool { return false }
func (t *transferTo) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var parsed struct {
		Request string `json:"request"`
	}
	_ = json.Unmarshal(args, &parsed)
	return json.Marshal(map[string]string{"status": "transferred", "transferred_to": t.agentName, "request": parsed.Request})
}

// TransferTarget extracts the target agent name from a transfer_to_<agent>
// tool name, returning ok=false for any other name.
func TransferTarget(toolName string) (string, bool) {
	if !strings.HasPrefix(toolName, TransferToPrefix) {
		return "", false
	}
	return strings.TrimPrefix(toolName, TransferToPrefix), true
}

var (
	_ tool.Tool = (*exitLoop)(nil)
	_ tool.Tool = (*escalate)(nil)
	_ tool.Tool = (*transferTo)(nil)
)
