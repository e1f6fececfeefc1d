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

// Package event defines the append-only Event envelope that every agent,
// tool and guardrail action is recorded as, and the side-effect Actions
// record carried alongside it. Events are the unit of streaming between
// Runner and caller, and the unit of persistence inside a Session.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-adk/adk/adk/content"
)

// FinishReason is the canonical, forward-compatible set of model turn
// terminations. Providers normalize their own enums (which may
// arrive as strings or small integers) into this set, falling back to
// FinishOther for anything unrecognized so new provider values never break
// ingestion.
type FinishReason string

const (
	FinishUnspecified         FinishReason = ""
	FinishStop                FinishReason = "stop"
	FinishMaxTokens           FinishReason = "max_tokens"
	FinishSafety              FinishReason = "safety"
	FinishRecitation          FinishReason = "recitation"
	FinishOther               FinishReason = "other"
	FinishBlocklist           FinishReason = "blocklist"
	FinishProhibitedContent   FinishReason = "prohibited_content"
	FinishSpii                FinishReason = "spii"
	FinishMalformedFunctionCall FinishReason = "malformed_function_call"
)

// UsageMetadata reports token accounting for a model turn.
type UsageMetadata struct {
	PromptTokens     int `json:"prompt_tokens"`
	CandidateTokens  int `json:"candidate_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the optional model-turn payload carried by an Event.
type LLMResponse struct {
	Content       *content.Content `json:"content,omitempty"`
	UsageMetadata *UsageMetadata   `json:"usage_metadata,omitempty"`
	FinishReason  FinishReason     `json:"finish_reason,omitempty"`
	ErrorCode     string           `json:"error_code,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

// ApprovalRequest is carried by actions.approval_request when a tool call
// has been classified Dangerous (C9) and is awaiting a human decision.
type ApprovalRequest struct {
	ActionID  string `json:"action_id"`
	Rationale string `json:"rationale"`
	Risk      string `json:"risk"`
}

// Actions is the side-effect record attached to an Event: anything beyond
// "here is some content" that the event causes to happen.
type Actions struct {
	// StateDelta is folded, last-write-wins, into session state: state after
	// event N is the fold of deltas 1..N.
	StateDelta map[string]any `json:"state_delta,omitempty"`

	// TransferToAgent names a sub-agent that should take over the
	// invocation, set by routing/delegation logic.
	TransferToAgent string `json:"transfer_to_agent,omitempty"`

	// Escalate terminates the remainder of a Sequential pipeline or a Loop.
	Escalate bool `json:"escalate,omitempty"`

	// ApprovalRequest is set when this event suspends the invocation
	// pending a human ApprovalDecision (C9).
	ApprovalRequest *ApprovalRequest `json:"approval_request,omitempty"`

	// PendingToolCallIDs lists long-running tool calls this event has
	// registered; the invocation suspends until a matching FunctionResponse
	// is appended externally.
	PendingToolCallIDs []string `json:"pending_tool_call_ids,omitempty"`

	// ArtifactDelta records artifact writes performed while producing this event.
	ArtifactDelta map[string]int64 `json:"artifact_delta,omitempty"`
}

// Merge folds other into a, last-write-wins on StateDelta keys. Used when
// composite agents aggregate child actions into a single emitted event.
func (a *Actions) Merge(other Actions) {
	if len(other.StateDelta) > 0 {
		if a.StateDelta == nil {
			a.StateDelta = make(map[string]any, len(other.StateDelta))
		}
		for k, v := range other.StateDelta {
			a.StateDelta[k] = v
		}
	}
	if other.TransferToAgent != "" {
		a.TransferToAgent = other.TransferToAgent
	}
	if other.Escalate {
		a.Escalate = true
	}
	if other.ApprovalRequest != nil {
		a.ApprovalRequest = other.ApprovalRequest
	}
	if len(other.PendingToolCallIDs) > 0 {
		a.PendingToolCallIDs = append(a.PendingToolCallIDs, other.PendingToolCallIDs...)
	}
}

// Event is the atomic, append-only record of everything that happens during
// an invocation. Event IDs are monotonically increasing and dense within a
// session; a Session assigns them on append, so a freshly constructed
// Event carries an empty EventID until appended.
type Event struct {
	EventID      uint64    `json:"event_id"`
	InvocationID string    `json:"invocation_id"`
	SessionID    string    `json:"session_id"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"ts"`

	LLMResponse *LLMResponse `json:"llm_response,omitempty"`
	Actions     Actions      `json:"actions"`

	Partial      bool `json:"partial"`
	TurnComplete bool `json:"turn_complete"`
	Interrupted  bool `json:"interrupted"`

	// ID is a client-assigned idempotency/correlation identifier, distinct
	// from the session-assigned EventID ordinal.
	ID string `json:"id"`
}

// New creates an Event stamped with a fresh correlation ID and the current
// time. EventID is left zero; the owning Session assigns it on append.
func New(invocationID, sessionID, author string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		SessionID:    sessionID,
		Author:       author,
		Timestamp:    time.Now(),
	}
}

// WithContent attaches model-turn content and returns the event for chaining.
func (e *Event) WithContent(c content.Content) *Event {
	if e.LLMResponse == nil {
		e.LLMResponse = &LLMResponse{}
	}
	e.LLMResponse.Content = &c
	return e
}

// Content returns the event's content, or the zero Content if none is set.
func (e *Event) Content() content.Content {
	if e.LLMResponse == nil || e.LLMResponse.Content == nil {
		return content.Content{}
	}
	return *e.LLMResponse.Content
}

// IsError reports whether this event carries a terminal error for its turn.
func (e *Event) IsError() bool {
	return e.LLMResponse != nil && e.LLMResponse.ErrorCode != ""
}

// IsFinalResponse reports whether this event ends its invocation's outer
// loop: not partial, carries no pending function call, and doesn't suspend
// for approval. Multiple agents in one invocation can each produce a final
// event for their own turn.
func (e *Event) IsFinalResponse() bool {
	if e.Partial {
		return false
	}
	if e.Actions.ApprovalRequest != nil {
		return false
	}
	if e.LLMResponse != nil && e.LLMResponse.Content != nil {
		if len(e.LLMResponse.Content.FunctionCalls()) > 0 {
			return false
		}
	}
	return true
}
