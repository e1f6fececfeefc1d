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

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-adk/adk/adk/content"
)

// DefaultMaxIterations is the tool-call loop's bound when
// ADK_MAX_TOOL_ITERATIONS is unset.
const DefaultMaxIterations = 10

// MaxIterationsFromEnv reads ADK_MAX_TOOL_ITERATIONS, falling back to
// DefaultMaxIterations on an unset or malformed value.
func MaxIterationsFromEnv() int {
	v := os.Getenv("ADK_MAX_TOOL_ITERATIONS")
	if v == "" {
		return DefaultMaxIterations
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultMaxIterations
	}
	return n
}

// ErrToolLoopExhausted is returned when the tool-call loop reaches its
// max-iteration bound without the model producing a turn free of function
// calls.
var ErrToolLoopExhausted = fmt.Errorf("tool: loop exhausted max iterations")

// PendingLongRunning describes a long-running tool call that has suspended
// the invocation pending an externally appended FunctionResponse.
type PendingLongRunning struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// CallResult is the outcome of dispatching a single FunctionCall.
type CallResult struct {
	CallID   string
	Name     string
	Response json.RawMessage
	// Pending is set instead of Response when the tool is long-running and
	// has suspended rather than completed synchronously.
	Pending *PendingLongRunning
	// ApprovalRequired is set instead of Response when an ApprovalChecker
	// classified this call as requiring human sign-off: the call suspends
	// the same way a long-running tool does, pending an external
	// ApprovalDecision rather than a tool result.
	ApprovalRequired *ApprovalRequiredError
}

// ApprovalRequiredError is returned by an ApprovalChecker (rather than a
// plain error) to suspend a call pending human approval instead of failing
// it outright. The tool-call loop special-cases this type.
type ApprovalRequiredError struct {
	ActionID  string
	Rationale string
	Risk      string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("tool: call %q requires approval: %s", e.ActionID, e.Rationale)
}

// ApprovalChecker decides whether a tool call may proceed, returning an
// *ApprovalRequiredError (defined in this package) to suspend. Left
// nil, every call is allowed through — agents wire the approval/risk gate
// (C9) by supplying one.
type ApprovalChecker func(ctx context.Context, callID, toolName string, args json.RawMessage) error

// Dispatch resolves and executes every FunctionCall in c, in order,
// validating arguments against each tool's schema first (dropping unknown
// keys, failing on a missing required key). A call to a missing tool or one
// that fails validation/execution yields a CallResult carrying an
// error-shaped FunctionResponse rather than aborting the batch, so sibling
// calls in the same turn still run.
func Dispatch(ctx context.Context, tools map[string]Tool, c content.Content, approve ApprovalChecker) []CallResult {
	calls := c.FunctionCalls()
	results := make([]CallResult, 0, len(calls))

	for _, fc := range calls {
		results = append(results, dispatchOne(ctx, tools, fc, approve))
	}
	return results
}

func dispatchOne(ctx context.Context, tools map[string]Tool, fc content.FunctionCall, approve ApprovalChecker) CallResult {
	t, ok := tools[fc.Name]
	if !ok {
		return errorResult(fc, fmt.Errorf("tool %q not found", fc.Name))
	}

	var args map[string]any
	if len(fc.Args) > 0 {
		if err := json.Unmarshal(fc.Args, &args); err != nil {
			return errorResult(fc, fmt.Errorf("invalid arguments: %w", err))
		}
	} else {
		args = map[string]any{}
	}
	if err := ValidateArgs(t.Schema(), args); err != nil {
		return errorResult(fc, err)
	}
	cleanArgs, err := json.Marshal(args)
	if err != nil {
		return errorResult(fc, err)
	}

	if approve != nil {
		if err := approve(ctx, fc.ID, fc.Name, cleanArgs); err != nil {
			var required *ApprovalRequiredError
			if errors.As(err, &required) {
				return CallResult{CallID: fc.ID, Name: fc.Name, ApprovalRequired: required}
			}
			return errorResult(fc, err)
		}
	}

	if t.IsLongRunning() {
		return CallResult{
			CallID: fc.ID,
			Name:   fc.Name,
			Pending: &PendingLongRunning{
				CallID: fc.ID,
				Name:   fc.Name,
				Args:   cleanArgs,
			},
		}
	}

	resp, err := t.Execute(ctx, cleanArgs)
	if err != nil {
		return errorResult(fc, err)
	}
	return CallResult{CallID: fc.ID, Name: fc.Name, Response: resp}
}

func errorResult(fc content.FunctionCall, err error) CallResult {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return CallResult{CallID: fc.ID, Name: fc.Name, Response: payload}
}

// ToContent converts a batch of CallResults (excluding any still Pending)
// into a single tool-role Content carrying one FunctionResponse part per
// completed call, in the same order they were dispatched.
func ToContent(results []CallResult) content.Content {
	c := content.Content{Role: content.RoleTool}
	for _, r := range results {
		if r.Pending != nil || r.ApprovalRequired != nil {
			continue
		}
		c.Parts = append(c.Parts, content.FunctionResponsePart(r.CallID, r.Name, r.Response))
	}
	return c
}
