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

// Package guardrail validates and optionally rewrites Content before it
// reaches the model (input guardrails) or before it is appended to a
// session (output guardrails).
package guardrail

import (
	"context"
	"fmt"

	"github.com/go-adk/adk/adk/content"
)

// Severity ranks how serious a Fail result is. A GuardrailSet's threshold
// decides which severities actually halt the invocation.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Outcome is the disposition of a single Guardrail's check.
type Outcome int

const (
	// OutcomePass means the content is unchanged and acceptable.
	OutcomePass Outcome = iota
	// OutcomeFail means the content is rejected; Reason/Severity are set.
	OutcomeFail
	// OutcomeModified means the guardrail rewrote the content; Content is set.
	OutcomeModified
)

// Result is what a Guardrail returns for one piece of Content.
type Result struct {
	Outcome  Outcome
	Reason   string
	Severity Severity
	Content  *content.Content // set only when Outcome == OutcomeModified
}

// Pass builds a passing Result.
func Pass() Result { return Result{Outcome: OutcomePass} }

// Fail builds a failing Result at the given severity.
func Fail(reason string, severity Severity) Result {
	return Result{Outcome: OutcomeFail, Reason: reason, Severity: severity}
}

// Modified builds a Result that replaces the Content seen downstream.
func Modified(c content.Content) Result {
	return Result{Outcome: OutcomeModified, Content: &c}
}

// Guardrail validates (and may rewrite) a single Content value.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, c content.Content) (Result, error)
}

// Set runs an ordered chain of Guardrails like middleware: a Modified
// result replaces the Content seen by the next guardrail, and, if it's the
// last guardrail, becomes the Content that is actually used downstream. A
// Fail at or above Threshold short-circuits the chain.
type Set struct {
	Guardrails []Guardrail
	Threshold  Severity
}

// NewSet builds a Set with the given threshold; Fail results below the
// threshold are ignored and do not stop the chain.
func NewSet(threshold Severity, gs ...Guardrail) *Set {
	return &Set{Guardrails: gs, Threshold: threshold}
}

// Run evaluates every guardrail in order against c, threading Modified
// content forward. It returns the final content (possibly rewritten) and,
// if any guardrail failed at or above the threshold, a non-nil error
// describing the first such failure.
func (s *Set) Run(ctx context.Context, c content.Content) (content.Content, error) {
	current := c
	for _, g := range s.Guardrails {
		res, err := g.Check(ctx, current)
		if err != nil {
			return current, fmt.Errorf("guardrail %q: %w", g.Name(), err)
		}
		switch res.Outcome {
		case OutcomeFail:
			if res.Severity >= s.Threshold {
				return current, &FailedError{Guardrail: g.Name(), Reason: res.Reason, Severity: res.Severity}
			}
		case OutcomeModified:
			if res.Content != nil {
				current = *res.Content
			}
		}
	}
	return current, nil
}

// FailedError reports which guardrail rejected content and why.
type FailedError struct {
	Guardrail string
	Reason    string
	Severity  Severity
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("guardrail %q failed (%s): %s", e.Guardrail, e.Severity, e.Reason)
}
