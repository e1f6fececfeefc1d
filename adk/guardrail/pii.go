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
	"regexp"

	"github.com/go-adk/adk/adk/content"
)

// Pattern names one class of PII and the regexp that matches it.
type Pattern struct {
	Name    string
	Regexp  *regexp.Regexp
	Replace string
}

// DefaultPatterns covers the common PII classes: email addresses, US phone
// numbers, credit-card-shaped digit runs, and US Social Security numbers.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "email", Regexp: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), Replace: "[REDACTED_EMAIL]"},
		{Name: "phone", Regexp: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), Replace: "[REDACTED_PHONE]"},
		{Name: "credit_card", Regexp: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), Replace: "[REDACTED_CARD]"},
		{Name: "ssn", Regexp: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Replace: "[REDACTED_SSN]"},
	}
}

// PIIRedactor rewrites text parts in place, replacing matches of its
// Patterns. It never fails the content: it returns OutcomeModified when a
// pattern matched and OutcomePass otherwise, so it composes as the last stage
// of an output guardrail chain without changing pass/fail semantics
// established by earlier guardrails.
type PIIRedactor struct {
	name     string
	patterns []Pattern
}

// NewPIIRedactor builds a redactor. Pass DefaultPatterns() for the built-in
// set, or a custom list.
func NewPIIRedactor(name string, patterns []Pattern) *PIIRedactor {
	if name == "" {
		name = "pii_redactor"
	}
	return &PIIRedactor{name: name, patterns: patterns}
}

func (r *PIIRedactor) Name() string { return r.name }

func (r *PIIRedactor) Check(_ context.Context, c content.Content) (Result, error) {
	out := content.Content{Role: c.Role, Parts: make([]content.Part, len(c.Parts))}
	changed := false
	for i, p := range c.Parts {
		if p.Type != content.PartTypeText {
			out.Parts[i] = p
			continue
		}
		text := p.Text
		for _, pat := range r.patterns {
			if pat.Regexp.MatchString(text) {
				text = pat.Regexp.ReplaceAllString(text, pat.Replace)
				changed = true
			}
		}
		out.Parts[i] = content.TextPart(text)
	}
	if !changed {
		return Pass(), nil
	}
	return Modified(out), nil
}

var _ Guardrail = (*PIIRedactor)(nil)
