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

// Package content defines the canonical message shape shared by every agent,
// tool and LLM provider in the execution core: a Content is a role plus an
// ordered sequence of Parts, and is immutable once produced.
package content

import "encoding/json"

// Role identifies who produced a Content.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// PartType tags the variant carried by a Part.
type PartType string

const (
	PartTypeText             PartType = "text"
	PartTypeInlineData       PartType = "inline_data"
	PartTypeFunctionCall     PartType = "function_call"
	PartTypeFunctionResponse PartType = "function_response"
	PartTypeFileRef          PartType = "file_ref"
)

// Part is a tagged union. Exactly one of the typed accessors below is
// valid, selected by Type.
type Part struct {
	Type PartType `json:"type"`

	// Text holds the payload when Type == PartTypeText.
	Text string `json:"text,omitempty"`

	// InlineData holds the payload when Type == PartTypeInlineData.
	InlineData *InlineData `json:"inline_data,omitempty"`

	// FunctionCall holds the payload when Type == PartTypeFunctionCall.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// FunctionResponse holds the payload when Type == PartTypeFunctionResponse.
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`

	// FileRef holds the payload when Type == PartTypeFileRef.
	FileRef *FileRef `json:"file_ref,omitempty"`
}

// InlineData is a MIME-typed byte payload embedded directly in a Part.
type InlineData struct {
	MIME  string `json:"mime"`
	Bytes []byte `json:"bytes"`
}

// FunctionCall is a model-requested tool invocation. ID is optional on
// ingress from providers that don't assign call IDs; the agent runtime
// stamps one on the turn's event if absent so FunctionResponse can always
// reference it.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse carries a tool's result back to the model. ID, when set,
// must match the FunctionCall.ID it answers.
type FunctionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// FileRef points at an externally stored artifact (e.g. in an ArtifactService).
type FileRef struct {
	URI  string `json:"uri"`
	MIME string `json:"mime,omitempty"`
}

// Content is an immutable message: a role plus an ordered list of Parts.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewText builds a single-part text Content for the given role.
func NewText(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart(text)}}
}

// TextPart constructs a text Part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// InlineDataPart constructs an inline-data Part.
func InlineDataPart(mime string, bytes []byte) Part {
	return Part{Type: PartTypeInlineData, InlineData: &InlineData{MIME: mime, Bytes: bytes}}
}

// FunctionCallPart constructs a function-call Part.
func FunctionCallPart(id, name string, args json.RawMessage) Part {
	return Part{Type: PartTypeFunctionCall, FunctionCall: &FunctionCall{ID: id, Name: name, Args: args}}
}

// FunctionResponsePart constructs a function-response Part.
func FunctionResponsePart(id, name string, response json.RawMessage) Part {
	return Part{Type: PartTypeFunctionResponse, FunctionResponse: &FunctionResponse{ID: id, Name: name, Response: response}}
}

// FileRefPart constructs a file-reference Part.
func FileRefPart(uri, mime string) Part {
	return Part{Type: PartTypeFileRef, FileRef: &FileRef{URI: uri, MIME: mime}}
}

// Text concatenates the text of every PartTypeText part, in order. This is
// the canonical way to recover a turn's aggregate text from partial chunks
// or from a multi-part final Content.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// FunctionCalls returns every function-call part in the content, in order.
func (c Content) FunctionCalls() []FunctionCall {
	var out []FunctionCall
	for _, p := range c.Parts {
		if p.Type == PartTypeFunctionCall && p.FunctionCall != nil {
			out = append(out, *p.FunctionCall)
		}
	}
	return out
}

// FunctionResponses returns every function-response part in the content, in order.
func (c Content) FunctionResponses() []FunctionResponse {
	var out []FunctionResponse
	for _, p := range c.Parts {
		if p.Type == PartTypeFunctionResponse && p.FunctionResponse != nil {
			out = append(out, *p.FunctionResponse)
		}
	}
	return out
}
