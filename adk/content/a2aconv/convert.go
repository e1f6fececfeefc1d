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

// Package a2aconv translates between this module's canonical content.Content
// and github.com/a2aproject/a2a-go's wire message types, so that events
// produced by the execution core can be relayed to A2A-speaking peers
// (remote agents, the A2A transport) without the core depending on A2A for
// its own data model.
package a2aconv

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/go-adk/adk/adk/content"
)

// ToA2AMessage converts a Content into an a2a.Message. Text parts become
// TextParts; function-call and function-response parts are carried as
// DataPart payloads; inline-data and file-reference parts are dropped.
func ToA2AMessage(c content.Content) a2a.Message {
	role := a2a.MessageRoleUser
	switch c.Role {
	case content.RoleModel:
		role = a2a.MessageRoleAgent
	case content.RoleSystem, content.RoleTool:
		role = a2a.MessageRoleUser
	}

	parts := make([]a2a.Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case content.PartTypeText:
			parts = append(parts, a2a.TextPart{Text: p.Text})
		case content.PartTypeFunctionCall, content.PartTypeFunctionResponse:
			parts = append(parts, a2a.DataPart{Data: functionPartToMap(p)})
		}
	}
	return *a2a.NewMessage(role, parts...)
}

func functionPartToMap(p content.Part) map[string]any {
	switch p.Type {
	case content.PartTypeFunctionCall:
		return map[string]any{
			"kind": "function_call",
			"id":   p.FunctionCall.ID,
			"name": p.FunctionCall.Name,
			"args": string(p.FunctionCall.Args),
		}
	case content.PartTypeFunctionResponse:
		return map[string]any{
			"kind":     "function_response",
			"id":       p.FunctionResponse.ID,
			"name":     p.FunctionResponse.Name,
			"response": string(p.FunctionResponse.Response),
		}
	default:
		return nil
	}
}

// FromA2AMessage converts an a2a.Message back into a Content, preserving
// only text parts (the direction this module needs: rendering a remote
// agent's reply into our own event stream).
func FromA2AMessage(m a2a.Message) content.Content {
	role := content.RoleUser
	if m.Role == a2a.MessageRoleAgent {
		role = content.RoleModel
	}

	parts := make([]content.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			parts = append(parts, content.TextPart(tp.Text))
		}
	}
	return content.Content{Role: role, Parts: parts}
}
