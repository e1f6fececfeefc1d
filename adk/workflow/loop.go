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

// Package workflow implements the composite agents that orchestrate other
// agents without calling a model themselves: Sequential runs sub-agents
// once in order, Loop repeats them until a sub-agent escalates or an
// iteration cap is hit, and Parallel fans them out concurrently with a
// configurable conflict policy on colliding state writes.
package workflow

import (
	"fmt"
	"iter"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/event"
)

// HardMaxIterations bounds a Loop even when MaxIterations is left at 0
// ("unbounded"), so a misbehaving sub-agent tree can't spin forever.
const HardMaxIterations = 100

// LoopConfig configures a Loop agent.
type LoopConfig struct {
	Name        string
	Description string
	SubAgents   []agent.Agent

	// MaxIterations bounds the number of rounds through SubAgents. 0 means
	// unbounded, subject to HardMaxIterations, and relies on a sub-agent
	// setting Actions.Escalate to terminate.
	MaxIterations int
}

// loopAgent repeatedly runs its sub-agents in sequence until one escalates
// or the iteration bound is reached.
type loopAgent struct {
	name        string
	description string
	subAgents   []agent.Agent
	maxIter     int
}

// NewLoop builds a Loop agent.
func NewLoop(cfg LoopConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow: loop agent name must not be empty")
	}
	max := cfg.MaxIterations
	if max <= 0 {
		max = HardMaxIterations
	}
	return &loopAgent{
		name:        cfg.Name,
		description: cfg.Description,
		subAgents:   cfg.SubAgents,
		maxIter:     max,
	}, nil
}

func (l *loopAgent) Name() string          { return l.name }
func (l *loopAgent) Description() string   { return l.description }
func (l *loopAgent) SubAgents() []agent.Agent { return l.subAgents }

func (l *loopAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for round := 0; round < l.maxIter; round++ {
			escalated := false

			for _, sub := range l.subAgents {
				branch := ctx.Branch() + "/" + sub.Name()
				subCtx := ctx.WithAgent(sub, branch)

				for ev, err := range sub.Run(subCtx) {
					if !yield(ev, err) {
						return
					}
					if ev != nil && ev.Actions.Escalate {
						escalated = true
					}
				}
				if escalated {
					return
				}
			}
		}
	}
}

var _ agent.Agent = (*loopAgent)(nil)
