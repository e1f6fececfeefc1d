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

// Package agent defines the Agent capability interface, the
// InvocationContext every agent runs under, and the LlmAgent runtime that
// drives the prompt-assembly / tool-call loop.
package agent

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/session"
)

// Agent is the capability every node in the agent tree implements: LLM
// agents, composite (Sequential/Parallel/Loop) agents and Graph agents alike.
type Agent interface {
	Name() string
	Description() string
	Run(ctx *InvocationContext) iter.Seq2[*event.Event, error]
	SubAgents() []Agent
}

// InvocationContext is the mutable, per-invocation handle passed down the
// agent tree: it carries the session snapshot, a cancellation token, and
// the run configuration, and is dropped at end of stream.
type InvocationContext struct {
	context.Context

	invocationID string
	appName      string
	userID       string
	branch       string

	agent       Agent
	session     *session.Session
	userContent *content.Content
	runConfig   *RunConfig

	cancel context.CancelFunc
	ended  bool
}

// RunConfig tunes a single invocation: streaming mode and the max tool-loop
// iteration bound.
type RunConfig struct {
	MaxToolIterations int
	StreamingEnabled  bool
}

// Params constructs a new InvocationContext.
type Params struct {
	AppName     string
	UserID      string
	Agent       Agent
	Session     *session.Session
	UserContent *content.Content
	RunConfig   *RunConfig
	Branch      string
}

// NewInvocationContext creates a fresh InvocationContext with its own
// cancellation token, derived from parent.
func NewInvocationContext(parent context.Context, p Params) *InvocationContext {
	cctx, cancel := context.WithCancel(parent)
	cfg := p.RunConfig
	if cfg == nil {
		cfg = &RunConfig{MaxToolIterations: 10}
	}
	return &InvocationContext{
		Context:      cctx,
		invocationID: uuid.NewString(),
		appName:      p.AppName,
		userID:       p.UserID,
		branch:       p.Branch,
		agent:        p.Agent,
		session:      p.Session,
		userContent:  p.UserContent,
		runConfig:    cfg,
		cancel:       cancel,
	}
}

// WithAgent returns a shallow copy of ctx scoped to a different agent and
// branch, for composite agents dispatching into sub-agents. The
// cancellation token and session are shared with the parent.
func (c *InvocationContext) WithAgent(a Agent, branch string) *InvocationContext {
	clone := *c
	clone.agent = a
	clone.branch = branch
	return &clone
}

func (c *InvocationContext) InvocationID() string          { return c.invocationID }
func (c *InvocationContext) AppName() string                { return c.appName }
func (c *InvocationContext) UserID() string                  { return c.userID }
func (c *InvocationContext) Branch() string                  { return c.branch }
func (c *InvocationContext) Agent() Agent                    { return c.agent }
func (c *InvocationContext) Session() *session.Session        { return c.session }
func (c *InvocationContext) UserContent() *content.Content    { return c.userContent }
func (c *InvocationContext) RunConfig() *RunConfig            { return c.runConfig }

// Cancel cancels the invocation's context; tool executions and sub-agent
// runs that observe ctx.Done() terminate at their next yield point.
func (c *InvocationContext) Cancel() { c.cancel() }

// EndInvocation signals that the outer agent loop should stop after the
// current step, without necessarily cancelling the underlying context.
func (c *InvocationContext) EndInvocation() { c.ended = true }

// Ended reports whether EndInvocation was called.
func (c *InvocationContext) Ended() bool { return c.ended }

// NewEvent stamps a new Event for this invocation authored by the current
// agent.
func (c *InvocationContext) NewEvent() *event.Event {
	ev := event.New(c.invocationID, c.session.SessionID, c.agent.Name())
	return ev
}

// ErrAgentNameReserved is returned by composite-agent constructors when a
// sub-agent is named "user", which is reserved for end-user input events.
var ErrAgentNameReserved = fmt.Errorf("agent: name %q is reserved", "user")

// FindAgent performs a depth-first search for name within root's tree.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// ListAgents flattens root's tree into a slice, root first, depth-first.
func ListAgents(root Agent) []Agent {
	if root == nil {
		return nil
	}
	out := []Agent{root}
	for _, sub := range root.SubAgents() {
		out = append(out, ListAgents(sub)...)
	}
	return out
}
