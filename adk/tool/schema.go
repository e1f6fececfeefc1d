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

// sanitizeKeys are schema fields that describe the schema document itself
// rather than the shape of the data, and must not be forwarded to an LLM
// provider's function-calling declaration.
var sanitizeKeys = []string{"$schema", "$id", "$ref", "definitions", "additionalProperties"}

// SanitizeSchema strips schema-meta fields the invopop/jsonschema reflector
// emits but that providers reject or ignore, recursing into properties and
// array items so nested struct schemas are cleaned too.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	for _, key := range sanitizeKeys {
		delete(out, key)
	}

	if props, ok := out["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				cleaned[name] = SanitizeSchema(pm)
			} else {
				cleaned[name] = p
			}
		}
		out["properties"] = cleaned
	}

	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = SanitizeSchema(items)
	}

	return out
}

// ValidateArgs checks decoded argument keys against a tool's schema,
// tolerant of unknown keys (dropped) but strict on a required key that is
// missing. It mutates args in place, removing unknown keys, and returns an
// error naming the first missing required key.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	props, _ := schema["properties"].(map[string]any)
	if props != nil {
		for k := range args {
			if _, known := props[k]; !known {
				delete(args, k)
			}
		}
	}

	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return &ErrMissingRequiredArg{Name: name}
		}
	}
	return nil
}

// ErrMissingRequiredArg is returned by ValidateArgs when a schema-required
// parameter is absent from the call arguments.
type ErrMissingRequiredArg struct {
	Name string
}

func (e *ErrMissingRequiredArg) Error() string {
	return "tool: missing required argument " + e.Name
}
