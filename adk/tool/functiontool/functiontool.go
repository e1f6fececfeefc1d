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

// Package functiontool builds a tool.Tool from a typed Go function, using
// struct tags to generate the parameter schema rather than hand-writing one.
package functiontool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/go-adk/adk/adk/tool"
)

// Config names and documents the tool produced by New.
type Config struct {
	Name            string
	Description     string
	LongRunning     bool
}

// New builds a tool.Tool around fn, generating its parameter schema from
// Args's json/jsonschema struct tags.
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
//	}
//
//	t, err := functiontool.New(functiontool.Config{Name: "search", Description: "..."},
//	    func(ctx context.Context, args SearchArgs) (map[string]any, error) { ... })
func New[Args any](cfg Config, fn func(context.Context, Args) (map[string]any, error)) (tool.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("functiontool: name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("functiontool: description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("functiontool: generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{config: cfg, fn: fn, schema: schema}, nil
}

type functionTool[Args any] struct {
	config Config
	fn     func(context.Context, Args) (map[string]any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string             { return t.config.Name }
func (t *functionTool[Args]) Description() string      { return t.config.Description }
func (t *functionTool[Args]) Schema() map[string]any    { return t.schema }
func (t *functionTool[Args]) IsLongRunning() bool       { return t.config.LongRunning }

func (t *functionTool[Args]) Execute(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args Args
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("functiontool: decode arguments for %s: %w", t.config.Name, err)
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("functiontool: encode result for %s: %w", t.config.Name, err)
	}
	return out, nil
}

// generateSchema reflects Args into a JSON Schema, flattened to
// {type, properties, required} the way ADK-style function declarations
// expect rather than a fully-referenced document.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, err
	}

	if asMap["type"] != "object" {
		return tool.SanitizeSchema(asMap), nil
	}

	flat := map[string]any{
		"type":       "object",
		"properties": asMap["properties"],
	}
	if req, ok := asMap["required"]; ok {
		flat["required"] = req
	}
	return tool.SanitizeSchema(flat), nil
}

var _ tool.Tool = (*functionTool[struct{}])(nil)
