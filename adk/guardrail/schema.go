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

package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/go-adk/adk/adk/content"
)

// SchemaValidator checks that a Content's text, once extracted as JSON,
// conforms to a JSON Schema. Extraction tries, in order: raw JSON, a
// ```json fenced block, then a bare ``` fenced block.
type SchemaValidator struct {
	name     string
	schema   *jsonschema.Schema
	severity Severity
}

// NewSchemaValidator compiles schemaDoc (already decoded JSON, e.g. from
// json.Unmarshal into map[string]any) and returns a guardrail that rejects
// content whose extracted JSON doesn't validate against it.
func NewSchemaValidator(name string, schemaDoc any, severity Severity) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if name == "" {
		name = "schema_validator"
	}
	return &SchemaValidator{name: name, schema: sch, severity: severity}, nil
}

func (v *SchemaValidator) Name() string { return v.name }

func (v *SchemaValidator) Check(_ context.Context, c content.Content) (Result, error) {
	doc, ok := extractJSON(c)
	if !ok {
		return Fail("content does not contain valid JSON", v.severity), nil
	}
	if err := v.schema.Validate(doc); err != nil {
		return Fail(fmt.Sprintf("schema validation failed: %s", err), v.severity), nil
	}
	return Pass(), nil
}

// extractJSON tries every text part of c, in order, for a JSON document:
// first the raw text, then a ```json fenced block, then a bare ``` block.
func extractJSON(c content.Content) (any, bool) {
	for _, p := range c.Parts {
		if p.Type != content.PartTypeText {
			continue
		}
		text := p.Text
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err == nil {
			return doc, true
		}
		if fenced, ok := extractFencedJSON(text); ok {
			if err := json.Unmarshal([]byte(fenced), &doc); err == nil {
				return doc, true
			}
		}
	}
	return nil, false
}

var fenceMarkers = []string{"```json\n", "```json\r\n", "```\n", "```\r\n"}

func extractFencedJSON(text string) (string, bool) {
	for _, start := range fenceMarkers {
		idx := strings.Index(text, start)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(start):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}

var _ Guardrail = (*SchemaValidator)(nil)
