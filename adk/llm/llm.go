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

// Package llm defines the provider-agnostic LLM abstraction every agent
// runtime drives: a single GenerateContent method that yields one response
// (non-streaming) or many partials followed by one aggregate (streaming).
package llm

import (
	"context"
	"iter"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
)

// Provider is an LLM backend: OpenAI, Anthropic, Gemini, Ollama, etc.
type Provider interface {
	// Name returns the model identifier this provider serves, e.g. "gpt-4o".
	Name() string

	// GenerateContent produces responses for req.
	//
	// stream=false yields exactly one Response with Partial=false.
	// stream=true yields zero or more Partial=true chunks followed by
	// exactly one Partial=false aggregate carrying the full content and
	// usage metadata.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]
}

// ToolDeclaration is the subset of a tool's shape an LLM provider needs to
// declare function-calling support to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenerationConfig tunes sampling and output shape.
type GenerationConfig struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
	StopSequences   []string
}

// CachedContentRef references a provider-side cached-content handle (e.g. a
// Gemini context cache), opaque to this package.
type CachedContentRef string

// Request is the input to a single GenerateContent call.
type Request struct {
	Model              string
	Contents           []content.Content
	Tools              []ToolDeclaration
	SystemInstruction  string
	GenerationConfig   GenerationConfig
	CachedContent      CachedContentRef
}

// Response is a single yielded turn, partial or aggregate.
type Response struct {
	Content       *content.Content
	UsageMetadata *event.UsageMetadata
	FinishReason  event.FinishReason
	Partial       bool
	TurnComplete  bool
	Interrupted   bool
	ErrorCode     string
	ErrorMessage  string
}

// IsError reports whether this response carries a terminal provider error.
func (r *Response) IsError() bool { return r != nil && r.ErrorCode != "" }
