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

package agent

import (
	"encoding/json"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/guardrail"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/adk/tool"
	"github.com/go-adk/adk/adk/tool/controltool"
)

// LlmAgent drives a single model-backed agent's prompt-assembly / tool-call
// loop: rebuild the conversation from session history, call the provider,
// run any function calls the model requests, and repeat until the model
// produces a turn free of pending calls or the invocation suspends for a
// long-running tool or a pending approval.
type LlmAgent struct {
	name        string
	description string

	provider          llm.Provider
	systemInstruction string
	generationConfig  llm.GenerationConfig

	tools     *tool.Registry
	approve   tool.ApprovalChecker
	inputGR   *guardrail.Set
	outputGR  *guardrail.Set
	outputKey string
	subAgents []Agent
}

// Config builds an LlmAgent.
type Config struct {
	Name        string
	Description string

	Provider          llm.Provider
	SystemInstruction string
	GenerationConfig  llm.GenerationConfig

	Tools   *tool.Registry
	Approve tool.ApprovalChecker

	InputGuardrails  *guardrail.Set
	OutputGuardrails *guardrail.Set

	// OutputKey, if set, is the session-state key this agent's final text
	// response is written to (overwriting any earlier write within the same
	// invocation) on every completed turn.
	OutputKey string

	SubAgents []Agent
}

// NewLlmAgent validates cfg and returns a ready-to-run LlmAgent.
func NewLlmAgent(cfg Config) (*LlmAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name must not be empty")
	}
	if cfg.Name == "user" {
		return nil, ErrAgentNameReserved
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %q: Provider is required", cfg.Name)
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}
	return &LlmAgent{
		name:              cfg.Name,
		description:       cfg.Description,
		provider:          cfg.Provider,
		systemInstruction: cfg.SystemInstruction,
		generationConfig:  cfg.GenerationConfig,
		tools:             cfg.Tools,
		approve:           cfg.Approve,
		inputGR:           cfg.InputGuardrails,
		outputGR:          cfg.OutputGuardrails,
		outputKey:         cfg.OutputKey,
		subAgents:         cfg.SubAgents,
	}, nil
}

func (a *LlmAgent) Name() string        { return a.name }
func (a *LlmAgent) Description() string { return a.description }
func (a *LlmAgent) SubAgents() []Agent  { return a.subAgents }

// Run executes the prompt-assembly / tool-call loop, yielding every event it
// produces (including partial streaming chunks) until the turn completes,
// the invocation suspends, or an error terminates it.
func (a *LlmAgent) Run(ctx *InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		tools, err := a.tools.Resolve(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("agent %q: %w", a.name, err))
			return
		}

		if a.resolveApprovalDecision(ctx, tools, yield) {
			return
		}

		maxIter := tool.DefaultMaxIterations
		if rc := ctx.RunConfig(); rc != nil && rc.MaxToolIterations > 0 {
			maxIter = rc.MaxToolIterations
		}

		// turnContents accumulates this invocation's own model/tool content
		// (the function calls and responses it has produced so far) so each
		// re-prompt sees the running tool-call transcript, not just session
		// history plus the original user turn.
		var turnContents []content.Content

		for i := 0; i < maxIter; i++ {
			req, err := a.buildRequest(ctx, tools, turnContents)
			if err != nil {
				yield(nil, err)
				return
			}

			modelContent, finalEv, err := a.callModel(ctx, req, yield)
			if err != nil {
				yield(nil, err)
				return
			}
			if finalEv == nil {
				// The consumer stopped iteration while a partial chunk
				// was being yielded; stop cleanly.
				return
			}
			if !yield(finalEv, nil) {
				return
			}
			if finalEv.Actions.Escalate {
				return
			}

			calls := modelContent.FunctionCalls()
			if len(calls) == 0 {
				return
			}
			turnContents = append(turnContents, modelContent)

			results := tool.Dispatch(ctx, tools, modelContent, a.approve)

			// Completed calls emit their FunctionResponses even when a
			// sibling call in the same batch suspends: their side effects
			// have already run, and every FunctionCall must be answered on
			// the stream. Only the pending/approval-gated call's response is
			// deferred.
			toolContent := tool.ToContent(results)
			var toolEv *event.Event
			if len(toolContent.Parts) > 0 {
				turnContents = append(turnContents, toolContent)
				toolEv = ctx.NewEvent().WithContent(toolContent)
				applyControlActions(toolEv, calls)
				if !yield(toolEv, nil) {
					return
				}
			}

			if suspendEv := a.suspendEventFor(ctx, results); suspendEv != nil {
				yield(suspendEv, nil)
				ctx.EndInvocation()
				return
			}

			if toolEv != nil && toolEv.Actions.Escalate {
				return
			}
		}

		yield(nil, fmt.Errorf("agent %q: %w", a.name, tool.ErrToolLoopExhausted))
	}
}

// buildRequest reconstructs the conversation the provider sees: every
// non-partial event's content, in append order, the invocation's user
// content (after running it through the input guardrail set), and any
// function-call/response content produced earlier in this same invocation's
// re-prompt loop (extra).
func (a *LlmAgent) buildRequest(ctx *InvocationContext, tools map[string]tool.Tool, extra []content.Content) (*llm.Request, error) {
	var contents []content.Content

	for _, ev := range ctx.Session().Events() {
		if ev.Partial {
			continue
		}
		c := ev.Content()
		if len(c.Parts) == 0 {
			continue
		}
		contents = append(contents, c)
	}

	if uc := ctx.UserContent(); uc != nil && len(uc.Parts) > 0 {
		checked, err := a.runInputGuardrails(ctx, *uc)
		if err != nil {
			return nil, err
		}
		contents = append(contents, checked)
	}

	contents = append(contents, extra...)

	decl := make([]llm.ToolDeclaration, 0, len(tools))
	for _, t := range tools {
		decl = append(decl, llm.ToolDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}

	return &llm.Request{
		Model:             a.provider.Name(),
		Contents:          contents,
		Tools:             decl,
		SystemInstruction: a.systemInstruction,
		GenerationConfig:  a.generationConfig,
	}, nil
}

func (a *LlmAgent) runInputGuardrails(ctx *InvocationContext, c content.Content) (content.Content, error) {
	if a.inputGR == nil {
		return c, nil
	}
	checked, err := a.inputGR.Run(ctx, c)
	if err != nil {
		return c, fmt.Errorf("agent %q: input guardrail: %w", a.name, err)
	}
	return checked, nil
}

func (a *LlmAgent) runOutputGuardrails(ctx *InvocationContext, c content.Content) (content.Content, error) {
	if a.outputGR == nil {
		return c, nil
	}
	checked, err := a.outputGR.Run(ctx, c)
	if err != nil {
		return c, fmt.Errorf("agent %q: output guardrail: %w", a.name, err)
	}
	return checked, nil
}

// callModel drives one GenerateContent call, yielding every partial chunk as
// its own event, and returns the aggregate content plus the non-partial
// event it builds for the turn.
func (a *LlmAgent) callModel(ctx *InvocationContext, req *llm.Request, yield func(*event.Event, error) bool) (content.Content, *event.Event, error) {
	streaming := ctx.RunConfig() != nil && ctx.RunConfig().StreamingEnabled

	var final *llm.Response
	for resp, err := range a.provider.GenerateContent(ctx, req, streaming) {
		if err != nil {
			return content.Content{}, nil, fmt.Errorf("agent %q: %w", a.name, err)
		}
		if resp.Partial {
			ev := ctx.NewEvent()
			ev.Partial = true
			if resp.Content != nil {
				ev = ev.WithContent(*resp.Content)
			}
			if !yield(ev, nil) {
				return content.Content{}, nil, nil
			}
			continue
		}
		final = resp
	}

	if final == nil {
		return content.Content{}, nil, fmt.Errorf("agent %q: provider produced no final response", a.name)
	}
	if final.IsError() {
		return content.Content{}, nil, fmt.Errorf("agent %q: provider error %s: %s", a.name, final.ErrorCode, final.ErrorMessage)
	}

	var finalContent content.Content
	if final.Content != nil {
		finalContent = *final.Content
	}
	finalContent, err := a.runOutputGuardrails(ctx, finalContent)
	if err != nil {
		return content.Content{}, nil, err
	}
	assignCallIDs(&finalContent)

	ev := ctx.NewEvent().WithContent(finalContent)
	ev.TurnComplete = final.TurnComplete
	ev.Interrupted = final.Interrupted
	ev.LLMResponse.FinishReason = final.FinishReason
	ev.LLMResponse.UsageMetadata = final.UsageMetadata

	if a.outputKey != "" {
		if text := finalContent.Text(); text != "" {
			ev.Actions.StateDelta = map[string]any{a.outputKey: text}
		}
	}

	return finalContent, ev, nil
}

// assignCallIDs stamps a fresh ID on any FunctionCall part the provider left
// without one, before the turn's event is emitted, so the matching
// FunctionResponse (and any approval decision) can always reference the call.
func assignCallIDs(c *content.Content) {
	for i := range c.Parts {
		p := &c.Parts[i]
		if p.Type == content.PartTypeFunctionCall && p.FunctionCall != nil && p.FunctionCall.ID == "" {
			p.FunctionCall.ID = uuid.NewString()
		}
	}
}

// applyControlActions recognizes calls to the built-in control-flow tools
// (exit_loop, escalate, transfer_to_<agent>) and sets the matching
// Event.Actions field, since these tools signal control flow by name rather
// than through their JSON result.
func applyControlActions(ev *event.Event, calls []content.FunctionCall) {
	for _, fc := range calls {
		switch {
		case fc.Name == controltool.ExitLoopName, fc.Name == controltool.EscalateName:
			ev.Actions.Escalate = true
		default:
			if target, ok := controltool.TransferTarget(fc.Name); ok {
				ev.Actions.TransferToAgent = target
			}
		}
	}
}

// suspendEventFor inspects dispatch results for a long-running or
// approval-pending call and, if one exists, builds the suspend event for it.
// Both kinds suspend the invocation the same way; only the Actions field
// populated differs.
func (a *LlmAgent) suspendEventFor(ctx *InvocationContext, results []tool.CallResult) *event.Event {
	var pendingIDs []string
	var approvalReq *event.ApprovalRequest

	for _, r := range results {
		if r.Pending != nil {
			pendingIDs = append(pendingIDs, r.CallID)
		}
		if r.ApprovalRequired != nil {
			approvalReq = &event.ApprovalRequest{
				ActionID:  r.ApprovalRequired.ActionID,
				Rationale: r.ApprovalRequired.Rationale,
				Risk:      r.ApprovalRequired.Risk,
			}
		}
	}

	if len(pendingIDs) == 0 && approvalReq == nil {
		return nil
	}

	ev := ctx.NewEvent()
	ev.Actions.PendingToolCallIDs = pendingIDs
	ev.Actions.ApprovalRequest = approvalReq
	return ev
}

// resolveApprovalDecision looks for an ApprovalDecision in the invocation's
// user content; if found, it locates the FunctionCall it answers in session
// history, executes (or rejects) the tool, and emits the single real
// FunctionResponse event for that call. Returns true if the invocation
// should stop after this step (a decision was resolved, or resolving one
// failed); the caller's outer loop re-prompts the model on the next Run.
func (a *LlmAgent) resolveApprovalDecision(ctx *InvocationContext, tools map[string]tool.Tool, yield func(*event.Event, error) bool) bool {
	uc := ctx.UserContent()
	if uc == nil {
		return false
	}

	for _, p := range uc.Parts {
		actionID, approved, isDecision := decodeDecisionPart(p)
		if !isDecision {
			continue
		}

		fc, found := findPendingCall(ctx, actionID)
		if !found {
			yield(nil, fmt.Errorf("agent %q: no pending call for approval decision %q", a.name, actionID))
			return true
		}

		var respPayload json.RawMessage
		switch {
		case !approved:
			respPayload, _ = json.Marshal(map[string]string{"error": "rejected by approver"})
		default:
			t, ok := tools[fc.Name]
			if !ok {
				respPayload, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("tool %q not found", fc.Name)})
				break
			}
			out, err := t.Execute(ctx, fc.Args)
			if err != nil {
				respPayload, _ = json.Marshal(map[string]string{"error": err.Error()})
			} else {
				respPayload = out
			}
		}

		toolContent := content.Content{
			Role:  content.RoleTool,
			Parts: []content.Part{content.FunctionResponsePart(fc.ID, fc.Name, respPayload)},
		}
		ev := ctx.NewEvent().WithContent(toolContent)
		yield(ev, nil)
		return true
	}

	return false
}

// decodeDecisionPart recognizes the approval package's synthetic
// FunctionResponse marker by its name and payload shape, without importing
// package approval; the marker name and payload shape are the public wire
// contract between the two packages.
func decodeDecisionPart(p content.Part) (actionID string, approved bool, ok bool) {
	const decisionPartName = "__approval_decision__"
	if p.Type != content.PartTypeFunctionResponse || p.FunctionResponse == nil {
		return "", false, false
	}
	if p.FunctionResponse.Name != decisionPartName {
		return "", false, false
	}
	var payload struct {
		ActionID string `json:"action_id"`
		Approved bool   `json:"approved"`
	}
	if err := json.Unmarshal(p.FunctionResponse.Response, &payload); err != nil {
		return "", false, false
	}
	return payload.ActionID, payload.Approved, true
}

// findPendingCall scans session history backward for the FunctionCall whose
// ID matches actionID.
func findPendingCall(ctx *InvocationContext, actionID string) (content.FunctionCall, bool) {
	events := ctx.Session().Events()
	for i := len(events) - 1; i >= 0; i-- {
		for _, fc := range events[i].Content().FunctionCalls() {
			if fc.ID == actionID {
				return fc, true
			}
		}
	}
	return content.FunctionCall{}, false
}

var _ Agent = (*LlmAgent)(nil)
