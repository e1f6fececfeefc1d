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

// Package graph implements a directed state graph of named nodes (agents or
// transform functions) connected by unconditional and conditional edges,
// executed step by step against a shared, channel-typed State. It is an
// alternative to the tree-shaped composite agents in workflow: a Graph agent
// can branch, loop and suspend (Interrupt/Resume) in ways a fixed Sequential
// or Loop pipeline cannot express.
package graph

import (
	"context"
	"fmt"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
)

// START and END are the virtual sentinel node names that bound a graph: every
// walk begins at START and a node wired to END terminates execution.
const (
	START = "__start__"
	END   = "__end__"
)

// State is the mutable channel store threaded through a graph walk. Channels
// is exported for direct inspection by input/output mappers and condition
// functions; callers should treat values as immutable once written; a node's
// output updates replace them atomically between steps.
type State struct {
	Channels map[string]any
}

// NewState builds an empty State.
func NewState() State {
	return State{Channels: make(map[string]any)}
}

// Get returns a channel value and whether it was present.
func (s State) Get(key string) (any, bool) {
	v, ok := s.Channels[key]
	return v, ok
}

// Clone returns a shallow copy of s, safe to hand to a node that should not
// observe later mutations made by concurrent readers of the original.
func (s State) Clone() State {
	out := make(map[string]any, len(s.Channels))
	for k, v := range s.Channels {
		out[k] = v
	}
	return State{Channels: out}
}

// apply folds updates into s in place, last-write-wins per key.
func (s State) apply(updates map[string]any) {
	for k, v := range updates {
		s.Channels[k] = v
	}
}

// Node is a unit of work in the graph: either an AgentNode or a FuncNode.
type Node interface {
	Name() string

	// run executes the node against st and returns the channel updates it
	// produced. emit is called for every intermediate event a node wants to
	// surface while running (model partials for an AgentNode); a false
	// return means the caller has stopped consuming and run should return
	// promptly.
	run(ctx *agent.InvocationContext, st State, emit func(*event.Event) bool) (map[string]any, error)
}

// InputMapper builds the content handed to an AgentNode's wrapped agent from
// the current state.
type InputMapper func(State) content.Content

// OutputMapper reduces the events an AgentNode's wrapped agent produced into
// channel updates.
type OutputMapper func([]*event.Event) map[string]any

// AgentNode wraps an agent.Agent as a graph node: InputMapper builds its
// turn's input from state, OutputMapper reduces its output events back into
// state updates.
type AgentNode struct {
	name         string
	agent        agent.Agent
	inputMapper  InputMapper
	outputMapper OutputMapper
}

// NewAgentNode builds a graph node that runs agent a on each visit.
func NewAgentNode(name string, a agent.Agent, in InputMapper, out OutputMapper) *AgentNode {
	return &AgentNode{name: name, agent: a, inputMapper: in, outputMapper: out}
}

func (n *AgentNode) Name() string { return n.name }

func (n *AgentNode) run(ctx *agent.InvocationContext, st State, emit func(*event.Event) bool) (map[string]any, error) {
	userContent := n.inputMapper(st)
	subCtx := agent.NewInvocationContext(ctx.Context, agent.Params{
		AppName:     ctx.AppName(),
		UserID:      ctx.UserID(),
		Agent:       n.agent,
		Session:     ctx.Session(),
		UserContent: &userContent,
		RunConfig:   ctx.RunConfig(),
		Branch:      ctx.Branch() + "/" + n.name,
	})
	defer subCtx.Cancel()

	var collected []*event.Event
	for ev, err := range n.agent.Run(subCtx) {
		if err != nil {
			return nil, fmt.Errorf("graph: node %q: %w", n.name, err)
		}
		collected = append(collected, ev)
		if !emit(ev) {
			break
		}
	}
	if n.outputMapper == nil {
		return nil, nil
	}
	return n.outputMapper(collected), nil
}

// FuncFn is a plain transform over State: no model call, no sub-agent. It
// returns the channel updates to apply, or an *InterruptError to suspend the
// graph at this node.
type FuncFn func(ctx context.Context, st State) (map[string]any, error)

// FuncNode wraps a FuncFn as a graph node.
type FuncNode struct {
	name string
	fn   FuncFn
}

// NewFuncNode builds a graph node that calls fn on each visit.
func NewFuncNode(name string, fn FuncFn) *FuncNode {
	return &FuncNode{name: name, fn: fn}
}

func (n *FuncNode) Name() string { return n.name }

func (n *FuncNode) run(ctx *agent.InvocationContext, st State, _ func(*event.Event) bool) (map[string]any, error) {
	return n.fn(ctx, st)
}

// Condition predicates a conditional edge on the current state.
type Condition func(State) bool

// edge is a single outgoing transition from a node.
type edge struct {
	to   string
	cond Condition // nil for an unconditional edge
}

// Builder assembles a Graph from named nodes and edges between them.
type Builder struct {
	name     string
	channels map[string]any
	nodes    map[string]Node
	edges    map[string][]edge
	err      error
}

// NewBuilder starts a graph builder named name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		channels: make(map[string]any),
		nodes:    make(map[string]Node),
		edges:    make(map[string][]edge),
	}
}

// Channels declares the initial values for one or more state channels.
func (b *Builder) Channels(initial map[string]any) *Builder {
	for k, v := range initial {
		b.channels[k] = v
	}
	return b
}

// Node registers n, keyed by its own name. Registering START or END as a
// node name is rejected at Build time.
func (b *Builder) Node(n Node) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.nodes[n.Name()]; exists {
		b.err = fmt.Errorf("graph: duplicate node %q", n.Name())
		return b
	}
	b.nodes[n.Name()] = n
	return b
}

// Edge adds an unconditional transition from -> to. from may be START; to
// may be END.
func (b *Builder) Edge(from, to string) *Builder {
	b.edges[from] = append(b.edges[from], edge{to: to})
	return b
}

// ConditionalEdge adds a transition from -> to that is only taken when cond
// holds on the state at the time from is left. Conditional edges are
// evaluated in the order added, after any unconditional edge from the same
// source (which always wins if present).
func (b *Builder) ConditionalEdge(from, to string, cond Condition) *Builder {
	b.edges[from] = append(b.edges[from], edge{to: to, cond: cond})
	return b
}

// Build validates the graph and returns it, or the first structural error
// recorded during assembly.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("graph: name must not be empty")
	}
	if _, ok := b.nodes[START]; ok {
		return nil, fmt.Errorf("graph: %q is a reserved node name", START)
	}
	if _, ok := b.nodes[END]; ok {
		return nil, fmt.Errorf("graph: %q is a reserved node name", END)
	}
	if len(b.edges[START]) == 0 {
		return nil, fmt.Errorf("graph: no edge out of %s", START)
	}
	for from, outs := range b.edges {
		if from != START {
			if _, ok := b.nodes[from]; !ok {
				return nil, fmt.Errorf("graph: edge from unknown node %q", from)
			}
		}
		for _, e := range outs {
			if e.to != END {
				if _, ok := b.nodes[e.to]; !ok {
					return nil, fmt.Errorf("graph: edge to unknown node %q", e.to)
				}
			}
		}
	}
	return &Graph{
		name:     b.name,
		channels: b.channels,
		nodes:    b.nodes,
		edges:    b.edges,
	}, nil
}

// Graph is the immutable definition of a built graph; Agent wraps it with
// execution configuration to produce a runnable agent.Agent.
type Graph struct {
	name     string
	channels map[string]any
	nodes    map[string]Node
	edges    map[string][]edge
}

// initialState returns a fresh State seeded with the graph's declared
// channel defaults.
func (g *Graph) initialState() State {
	st := NewState()
	for k, v := range g.channels {
		st.Channels[k] = v
	}
	return st
}

// next resolves the outgoing transition from "from" given the current
// state: the first unconditional edge wins, otherwise the first conditional
// edge whose predicate holds, otherwise ("", false) meaning the graph has no
// way forward (a definition error surfaced at run time rather than build
// time, since it depends on which conditions fire).
func (g *Graph) next(from string, st State) (string, bool) {
	var fallback string
	hasFallback := false
	for _, e := range g.edges[from] {
		if e.cond == nil {
			return e.to, true
		}
		if !hasFallback && e.cond(st) {
			fallback = e.to
			hasFallback = true
		}
	}
	return fallback, hasFallback
}
