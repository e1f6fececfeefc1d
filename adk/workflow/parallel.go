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

package workflow

import (
	"fmt"
	"iter"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/event"
)

// ConflictPolicy decides what happens when two parallel branches write the
// same state-delta key in the same invocation.
type ConflictPolicy int

const (
	// ConflictFail rejects the second write with ErrConflictingStateWrite.
	// This is the default: silently dropping or reordering a sibling
	// branch's state write is a surprising failure mode, so the policy
	// fails fast and surfaces the conflict to the agent author instead.
	ConflictFail ConflictPolicy = iota

	// ConflictNamespace rewrites every state key a branch writes to
	// "<agent>:<key>", where <agent> is the branch's sub-agent name, so
	// parallel writes to one key survive under distinct keys.
	ConflictNamespace

	// ConflictLastWins lets the conflict through unchanged; the session's
	// own last-write-wins StateDelta fold decides the outcome based on
	// arrival order, which is racy across goroutines and not recommended.
	ConflictLastWins
)

// ParallelConfig configures a Parallel agent.
type ParallelConfig struct {
	Name        string
	Description string
	SubAgents   []agent.Agent

	// Conflict selects the policy applied when two branches write the same
	// state key in the same round. Defaults to ConflictFail.
	Conflict ConflictPolicy
}

// ErrConflictingStateWrite is returned (wrapped in the iterator's error
// position) when ConflictFail observes two branches writing the same state
// key.
type ErrConflictingStateWrite struct {
	Key         string
	FirstBranch string
	SecondBranch string
}

func (e *ErrConflictingStateWrite) Error() string {
	return fmt.Sprintf("workflow: branches %q and %q both wrote state key %q", e.FirstBranch, e.SecondBranch, e.Key)
}

type parallelAgent struct {
	name        string
	description string
	subAgents   []agent.Agent
	conflict    ConflictPolicy
}

// NewParallel builds an agent that runs its sub-agents concurrently; every
// sub-agent receives the same user content and an isolated branch-scoped
// InvocationContext, and events are yielded to the caller in arrival order
// as they complete rather than per-branch.
func NewParallel(cfg ParallelConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow: parallel agent name must not be empty")
	}
	return &parallelAgent{
		name:        cfg.Name,
		description: cfg.Description,
		subAgents:   cfg.SubAgents,
		conflict:    cfg.Conflict,
	}, nil
}

func (p *parallelAgent) Name() string             { return p.name }
func (p *parallelAgent) Description() string      { return p.description }
func (p *parallelAgent) SubAgents() []agent.Agent { return p.subAgents }

type branchResult struct {
	branch string
	ev     *event.Event
	err    error
}

func (p *parallelAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		grp, grpCtx := errgroup.WithContext(ctx)
		done := make(chan struct{})
		results := make(chan branchResult)

		for _, sa := range p.subAgents {
			sub := sa
			branch := ctx.Branch() + "/" + sub.Name()

			grp.Go(func() error {
				subCtx := agent.NewInvocationContext(grpCtx, agent.Params{
					AppName:     ctx.AppName(),
					UserID:      ctx.UserID(),
					Agent:       sub,
					Session:     ctx.Session(),
					UserContent: ctx.UserContent(),
					RunConfig:   ctx.RunConfig(),
					Branch:      branch,
				})
				return runBranch(subCtx, sub, branch, results, done)
			})
		}

		go func() {
			_ = grp.Wait()
			close(results)
		}()

		defer close(done)

		seenKeys := make(map[string]string) // state key -> branch that wrote it
		var mu sync.Mutex

		for res := range results {
			if res.err != nil {
				yield(nil, res.err)
				continue
			}
			ev := res.ev
			if ev != nil && len(ev.Actions.StateDelta) > 0 {
				mu.Lock()
				ev, res.err = p.resolveConflicts(ev, res.branch, seenKeys)
				mu.Unlock()
				if res.err != nil {
					if !yield(nil, res.err) {
						return
					}
					continue
				}
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (p *parallelAgent) resolveConflicts(ev *event.Event, branch string, seen map[string]string) (*event.Event, error) {
	conflicting := make([]string, 0)
	for k := range ev.Actions.StateDelta {
		if owner, ok := seen[k]; (ok && owner != branch) || p.conflict == ConflictNamespace {
			conflicting = append(conflicting, k)
			continue
		}
		seen[k] = branch
	}
	if len(conflicting) == 0 {
		return ev, nil
	}

	switch p.conflict {
	case ConflictNamespace:
		delta := make(map[string]any, len(ev.Actions.StateDelta))
		for k, v := range ev.Actions.StateDelta {
			delta[path.Base(branch)+":"+k] = v
		}
		ev.Actions.StateDelta = delta
		return ev, nil
	case ConflictLastWins:
		return ev, nil
	default:
		first := seen[conflicting[0]]
		return nil, &ErrConflictingStateWrite{Key: conflicting[0], FirstBranch: first, SecondBranch: branch}
	}
}

func runBranch(ctx *agent.InvocationContext, sub agent.Agent, branch string, results chan<- branchResult, done <-chan struct{}) error {
	for ev, err := range sub.Run(ctx) {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			select {
			case <-done:
			case results <- branchResult{branch: branch, err: ctx.Err()}:
			}
			return ctx.Err()
		case results <- branchResult{branch: branch, ev: ev, err: err}:
			if err != nil {
				return err
			}
		}
	}
	return nil
}

var _ agent.Agent = (*parallelAgent)(nil)
