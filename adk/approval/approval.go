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

// Package approval implements risk-tier classification and an approval/audit
// gate: every tool call is classified Safe/Controlled/Dangerous, Dangerous
// calls suspend the invocation pending a human ApprovalDecision. Safe calls
// pass without an audit entry; Controlled auto-approvals, Dangerous pending
// suspensions and human decisions land in an audit log.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/tool"
)

// RiskTier classifies an intended action.
type RiskTier string

const (
	Safe       RiskTier = "safe"
	Controlled RiskTier = "controlled"
	Dangerous  RiskTier = "dangerous"
)

// Classifier assigns a RiskTier to a prospective tool call.
type Classifier interface {
	Classify(ctx context.Context, toolName string, args json.RawMessage) RiskTier
}

// KeywordClassifier classifies by per-tool fixed risk plus keyword matching
// over the tool name and serialized args against declared keyword lists.
type KeywordClassifier struct {
	// ToolRisk overrides the tier for specific tool names.
	ToolRisk map[string]RiskTier

	// DangerousKeywords/ControlledKeywords are matched, case-insensitively,
	// against the tool name and its JSON-encoded args.
	DangerousKeywords  []string
	ControlledKeywords []string
}

// NewKeywordClassifier builds a classifier with a sensible default keyword
// set for destructive operations, on top of any caller-supplied overrides.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		ToolRisk: make(map[string]RiskTier),
		DangerousKeywords: []string{
			"delete", "drop", "rm ", "rollback", "terminate", "shutdown",
			"format", "truncate", "revoke", "deploy", "production", "prod",
		},
		ControlledKeywords: []string{
			"write", "update", "modify", "send", "post", "create",
		},
	}
}

func (c *KeywordClassifier) Classify(_ context.Context, toolName string, args json.RawMessage) RiskTier {
	if tier, ok := c.ToolRisk[toolName]; ok {
		return tier
	}
	haystack := strings.ToLower(toolName + " " + string(args))
	for _, kw := range c.DangerousKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return Dangerous
		}
	}
	for _, kw := range c.ControlledKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return Controlled
		}
	}
	return Safe
}

// AuditEntry is one record in the approval audit trail.
type AuditEntry struct {
	ActionID  string    `json:"action_id"`
	Actor     string    `json:"actor"`
	Risk      RiskTier  `json:"risk"`
	Decision  string    `json:"decision"` // "auto-approved" | "pending" | "approved" | "rejected"; signed decisions append " by <actor>"
	Timestamp time.Time `json:"ts"`
}

// AuditLog persists approval decisions.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context) ([]AuditEntry, error)
}

// MemoryAuditLog is a process-local AuditLog, sufficient for a single-process
// embeddable core with no distributed coordination.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryAuditLog) List(_ context.Context) ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// Gate ties a Classifier and AuditLog together into a tool.ApprovalChecker:
// Safe calls pass through silently, Controlled calls pass through but are
// audited, and Dangerous calls return a *tool.ApprovalRequiredError so the
// tool-call loop suspends instead of failing.
type Gate struct {
	Classifier Classifier
	Audit      AuditLog
	// Actor identifies who/what initiated the call, for the audit entry.
	Actor string
	// Signer, if set, lets RecordSignedDecision verify attribution on
	// ApprovalDecisions arriving as signed tokens rather than trusted
	// in-process calls to RecordDecision.
	Signer *TokenSigner
}

// NewGate builds a Gate with a default KeywordClassifier and an in-memory
// audit log.
func NewGate(actor string) *Gate {
	return &Gate{Classifier: NewKeywordClassifier(), Audit: NewMemoryAuditLog(), Actor: actor}
}

// Check implements tool.ApprovalChecker.
func (g *Gate) Check(ctx context.Context, callID, toolName string, args json.RawMessage) error {
	risk := g.Classifier.Classify(ctx, toolName, args)
	switch risk {
	case Safe:
		return nil
	case Controlled:
		g.audit(ctx, callID, risk, "auto-approved")
		return nil
	default:
		g.audit(ctx, callID, risk, "pending")
		return &tool.ApprovalRequiredError{
			ActionID:  callID,
			Rationale: fmt.Sprintf("tool %q classified %s", toolName, risk),
			Risk:      string(risk),
		}
	}
}

func (g *Gate) audit(ctx context.Context, actionID string, risk RiskTier, decision string) {
	if g.Audit == nil {
		return
	}
	_ = g.Audit.Record(ctx, AuditEntry{
		ActionID:  actionID,
		Actor:     g.Actor,
		Risk:      risk,
		Decision:  decision,
		Timestamp: time.Now(),
	})
}

// RecordDecision audits a human ApprovalDecision resolving a previously
// suspended Dangerous call.
func (g *Gate) RecordDecision(ctx context.Context, actionID string, approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	g.audit(ctx, actionID, Dangerous, decision)
}

// RecordSignedDecision verifies token with Signer, then audits and returns
// the decision it carries. It is the attributed counterpart of
// RecordDecision for deployments where ApprovalDecisions arrive over a
// channel (e.g. an approvals API) that isn't already trusted the way an
// in-process caller is, so the actor making the call needs to be proven
// rather than asserted.
func (g *Gate) RecordSignedDecision(ctx context.Context, token string) (actionID string, approved bool, err error) {
	if g.Signer == nil {
		return "", false, fmt.Errorf("approval: gate has no Signer configured")
	}
	actionID, approved, actor, err := g.Signer.Verify(token)
	if err != nil {
		return "", false, fmt.Errorf("approval: verifying decision token: %w", err)
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	g.audit(ctx, actionID, Dangerous, decision+" by "+actor)
	return actionID, approved, nil
}

// decisionPartName is the synthetic FunctionResponse name used to carry an
// ApprovalDecision through the Content model without colliding with the
// real tool's FunctionResponse for the same call ID.
const decisionPartName = "__approval_decision__"

type decisionPayload struct {
	ActionID string `json:"action_id"`
	Approved bool   `json:"approved"`
}

// DecisionPart builds the Content Part a caller sends to resolve a
// suspended Dangerous call.
func DecisionPart(actionID string, approved bool) content.Part {
	payload, _ := json.Marshal(decisionPayload{ActionID: actionID, Approved: approved})
	return content.FunctionResponsePart("", decisionPartName, payload)
}

// ParseDecision extracts an ApprovalDecision from a Part, if it is one.
func ParseDecision(p content.Part) (actionID string, approved bool, ok bool) {
	if p.Type != content.PartTypeFunctionResponse || p.FunctionResponse == nil {
		return "", false, false
	}
	if p.FunctionResponse.Name != decisionPartName {
		return "", false, false
	}
	var payload decisionPayload
	if err := json.Unmarshal(p.FunctionResponse.Response, &payload); err != nil {
		return "", false, false
	}
	return payload.ActionID, payload.Approved, true
}

// TokenSigner signs and verifies compact JWTs carrying an ApprovalDecision,
// mirroring pkg/auth's JWTValidator: HS256-signed claims validated with
// jwx/v2 rather than hand-rolled HMAC comparison. Unlike pkg/auth, which
// verifies tokens minted by an external IdP against a fetched JWKS, the
// approval gate is both issuer and verifier for its own decisions, so a
// single symmetric key takes the place of a JWKS cache.
type TokenSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewTokenSigner builds a TokenSigner with the given HMAC key and issuer
// claim. Tokens are valid for 15 minutes from signing.
func NewTokenSigner(key []byte, issuer string) *TokenSigner {
	return &TokenSigner{key: key, issuer: issuer, ttl: 15 * time.Minute}
}

// Sign produces a compact JWT attesting that actor decided approved for
// actionID.
func (s *TokenSigner) Sign(actionID string, approved bool, actor string) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(actionID).
		Claim("approved", approved).
		Claim("actor", actor).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("approval: building decision token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("approval: signing decision token: %w", err)
	}
	return string(signed), nil
}

// Verify validates token's signature, issuer, and expiry, then extracts the
// ApprovalDecision it carries.
func (s *TokenSigner) Verify(token string) (actionID string, approved bool, actor string, err error) {
	tok, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return "", false, "", fmt.Errorf("approval: invalid decision token: %w", err)
	}

	approvedClaim, ok := tok.Get("approved")
	if !ok {
		return "", false, "", fmt.Errorf("approval: decision token missing %q claim", "approved")
	}
	approved, ok = approvedClaim.(bool)
	if !ok {
		return "", false, "", fmt.Errorf("approval: decision token %q claim is not a bool", "approved")
	}

	if actorClaim, ok := tok.Get("actor"); ok {
		actor, _ = actorClaim.(string)
	}

	return tok.Subject(), approved, actor, nil
}
