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

package graph

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/event"
)

// StreamMode selects what an Agent emits at each node boundary.
type StreamMode string

const (
	// StreamUpdates yields only the channel updates a node produced. This is
	// the default: cheapest to consume, and what a caller folding graph
	// output into session state actually needs.
	StreamUpdates StreamMode = "updates"

	// StreamValues yields the full state snapshot after every node boundary.
	StreamValues StreamMode = "values"

	// StreamMessages relays an AgentNode's own event stream (including
	// partial chunks) as it runs, in addition to the node-boundary event.
	StreamMessages StreamMode = "messages"
)

const defaultStepLimit = 100

// Config configures a graph Agent.
type Config struct {
	Name        string
	Description string
	Graph       *Graph

	// Store persists checkpoints between steps. Defaults to a MemoryStore.
	Store Store

	// Mode selects the streaming behavior. Defaults to StreamUpdates.
	Mode StreamMode

	// StepLimit bounds a single walk; no cycle detection is performed, so
	// this is what keeps an accidental cycle from running forever. Defaults
	// to 100.
	StepLimit int
}

// Agent adapts a built Graph into an agent.Agent, so it can sit anywhere in
// an agent tree a Sequential, Parallel or LlmAgent can.
type Agent struct {
	name        string
	description string
	graph       *Graph
	store       Store
	mode        StreamMode
	stepLimit   int
}

// New builds a graph Agent from cfg.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("graph: agent name must not be empty")
	}
	if cfg.Graph == nil {
		return nil, fmt.Errorf("graph: agent %q: Graph must not be nil", cfg.Name)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = StreamUpdates
	}
	limit := cfg.StepLimit
	if limit <= 0 {
		limit = defaultStepLimit
	}
	return &Agent{
		name:        cfg.Name,
		description: cfg.Description,
		graph:       cfg.Graph,
		store:       store,
		mode:        mode,
		stepLimit:   limit,
	}, nil
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }

// SubAgents flattens the agents wrapped by this graph's AgentNodes, so
// FindAgent/ListAgents can see into the graph.
func (a *Agent) SubAgents() []agent.Agent {
	var out []agent.Agent
	for _, n := range a.graph.nodes {
		if an, ok := n.(*AgentNode); ok {
			out = append(out, an.agent)
		}
	}
	return out
}

// ThreadID derives the checkpoint thread identity for an invocation: one
// thread per session branch, so nested graphs (a graph node whose own
// sub-agent is itself a graph) get distinct threads.
func (a *Agent) ThreadID(ctx *agent.InvocationContext) string {
	return ctx.Session().SessionID + "/" + ctx.Branch()
}

// Run starts a fresh walk of the graph from START. Use Resume instead to
// continue a thread a prior Run left Suspended.
func (a *Agent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		threadID := a.ThreadID(ctx)
		st := a.graph.initialState()
		if uc := ctx.UserContent(); uc != nil {
			st.Channels["input"] = *uc
		}
		a.walk(ctx, threadID, st, START, 0, yield)
	}
}

// Resume continues a thread previously left Suspended by an Interrupt,
// merging payload into its state and re-entering the node that raised the
// interrupt. It returns ErrThreadNotSuspended (via the iterator's error
// position) if threadID has no pending interrupt.
func (a *Agent) Resume(ctx *agent.InvocationContext, threadID string, payload map[string]any) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		cp, ok, err := a.store.Load(ctx, threadID)
		if err != nil {
			yield(nil, err)
			return
		}
		if !ok || cp.Status != ThreadSuspended {
			yield(nil, ErrThreadNotSuspended)
			return
		}
		st := State{Channels: cp.State}
		st.apply(payload)
		a.walk(ctx, threadID, st, cp.NextNode, cp.Step, yield)
	}
}

func (a *Agent) walk(ctx *agent.InvocationContext, threadID string, st State, node string, step int, yield func(*event.Event, error) bool) {
	for {
		if node == END {
			a.checkpoint(ctx, threadID, step, st, END, ThreadCompleted, nil)
			ev := ctx.NewEvent()
			ev.TurnComplete = true
			yield(ev, nil)
			return
		}
		if node == START {
			next, ok := a.graph.next(START, st)
			if !ok {
				yield(nil, fmt.Errorf("graph %q: no outgoing edge from %s", a.name, START))
				return
			}
			node = next
			continue
		}
		if step >= a.stepLimit {
			a.checkpoint(ctx, threadID, step, st, node, ThreadFailed, nil)
			yield(nil, fmt.Errorf("graph %q: %w", a.name, ErrStepLimitExceeded))
			return
		}

		n, ok := a.graph.nodes[node]
		if !ok {
			yield(nil, fmt.Errorf("graph %q: unknown node %q", a.name, node))
			return
		}

		relay := func(sub *event.Event) bool {
			if a.mode != StreamMessages {
				return true
			}
			return yield(sub, nil)
		}

		updates, err := n.run(ctx, st, relay)
		if err != nil {
			var interrupt *InterruptError
			if errors.As(err, &interrupt) {
				a.checkpoint(ctx, threadID, step, st, node, ThreadSuspended, interrupt.Data)
				ev := ctx.NewEvent()
				ev.Interrupted = true
				ev.Actions.StateDelta = map[string]any{"interrupt": interrupt.Data}
				yield(ev, nil)
				return
			}
			a.checkpoint(ctx, threadID, step, st, node, ThreadFailed, nil)
			yield(nil, err)
			return
		}

		st.apply(updates)
		step++

		next, ok := a.graph.next(node, st)
		if !ok {
			yield(nil, fmt.Errorf("graph %q: node %q has no outgoing edge for current state", a.name, node))
			return
		}

		a.checkpoint(ctx, threadID, step, st, next, ThreadRunning, nil)

		boundary := ctx.NewEvent()
		switch a.mode {
		case StreamValues:
			boundary.Actions.StateDelta = st.Clone().Channels
		default:
			boundary.Actions.StateDelta = updates
		}
		if !yield(boundary, nil) {
			return
		}

		node = next
	}
}

func (a *Agent) checkpoint(ctx *agent.InvocationContext, threadID string, step int, st State, nextNode string, status ThreadStatus, interrupt map[string]any) {
	cp := Checkpoint{
		ThreadID:  threadID,
		Step:      step,
		State:     st.Channels,
		NextNode:  nextNode,
		Status:    status,
		Interrupt: interrupt,
	}
	if err := a.store.Save(ctx, cp); err != nil {
		slog.Warn("graph: checkpoint save failed", "graph", a.name, "thread_id", threadID, "err", err)
	}
}

var _ agent.Agent = (*Agent)(nil)
