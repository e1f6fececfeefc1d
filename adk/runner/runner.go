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

// Package runner binds a SessionService and a root agent together: Run
// resolves or creates a session, appends the user's turn, drives the root
// (or, mid-conversation, the last-transferred-to) agent, and persists every
// non-partial event the agent tree produces.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/session"
)

var (
	tracer = otel.Tracer("github.com/go-adk/adk/adk/runner")
	meter  = otel.Meter("github.com/go-adk/adk/adk/runner")

	invocationsTotal, _   = meter.Int64Counter("adk.invocations.total")
	invocationErrors, _   = meter.Int64Counter("adk.invocations.errors")
	invocationDuration, _ = meter.Float64Histogram("adk.invocation.duration",
		metric.WithUnit("s"))
)

// Compactor summarizes older session events into a compact system note when
// invoked, returning the event to persist, or nil if nothing needed
// summarizing. Runner calls it once per invocation, after the agent tree has
// finished producing events, if configured.
type Compactor interface {
	CheckAndCompact(ctx context.Context, sess *session.Session) (*event.Event, error)
}

// Config configures a Runner.
type Config struct {
	AppName        string
	Agent          agent.Agent
	SessionService session.Service

	// Compactor runs periodic compaction after each turn, if set.
	Compactor Compactor
}

// Runner orchestrates agent execution within sessions.
type Runner struct {
	appName   string
	rootAgent agent.Agent
	sessions  session.Service
	compactor Compactor
	parents   ParentMap

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New builds a Runner. Agent and SessionService are required.
func New(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("runner: Agent is required")
	}
	if cfg.SessionService == nil {
		return nil, fmt.Errorf("runner: SessionService is required")
	}
	parents, err := BuildParentMap(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("runner: building agent tree: %w", err)
	}
	return &Runner{
		appName:   cfg.AppName,
		rootAgent: cfg.Agent,
		sessions:  cfg.SessionService,
		compactor: cfg.Compactor,
		parents:   parents,
		active:    make(map[string]context.CancelFunc),
	}, nil
}

// Cancel cancels the invocation with the given ID if it is still running,
// reporting whether a matching invocation was found. The cancelled run's
// agents and tools terminate at their next yield point, and the stream ends
// with a final Interrupted event.
func (r *Runner) Cancel(invocationID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[invocationID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) track(invocationID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.active[invocationID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(invocationID string) {
	r.mu.Lock()
	delete(r.active, invocationID)
	r.mu.Unlock()
}

// Run resolves or creates the (userID, sessionID) session, appends content
// as a user event, drives the agent tree, and yields every event it
// produces. Non-partial events are persisted to the session as they arrive.
// Cancelling ctx mid-turn yields a final Interrupted event before the stream
// ends.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, c content.Content, cfg *agent.RunConfig) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "runner.Run",
			trace.WithAttributes(
				attribute.String("adk.app_name", r.appName),
				attribute.String("adk.user_id", userID),
			))
		defer span.End()

		key := session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID}
		sess, err := r.getOrCreateSession(ctx, key)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}

		agentToRun := r.findAgentToRun(sess)

		invCtx := agent.NewInvocationContext(ctx, agent.Params{
			AppName:     r.appName,
			UserID:      userID,
			Agent:       agentToRun,
			Session:     sess,
			UserContent: &c,
			RunConfig:   cfg,
			Branch:      agentToRun.Name(),
		})
		r.track(invCtx.InvocationID(), invCtx.Cancel)
		defer r.untrack(invCtx.InvocationID())
		defer invCtx.Cancel()

		start := time.Now()
		failed := false
		defer func() {
			attrs := metric.WithAttributes(
				attribute.String("adk.app_name", r.appName),
				attribute.String("adk.agent", agentToRun.Name()),
			)
			invocationsTotal.Add(ctx, 1, attrs)
			invocationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			if failed {
				invocationErrors.Add(ctx, 1, attrs)
			}
		}()

		userEvent, err := r.appendUserEvent(ctx, key, invCtx, c)
		if err != nil {
			failed = true
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
		if !yield(userEvent, nil) {
			return
		}

		defer r.compact(ctx, sess)

		interrupted := false
		for ev, err := range agentToRun.Run(invCtx) {
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					interrupted = true
					break
				}
				failed = true
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			if !ev.Partial {
				if err := r.sessions.AppendEvent(ctx, key, ev); err != nil {
					failed = true
					err = fmt.Errorf("runner: persisting event: %w", err)
					span.RecordError(err)
					yield(nil, err)
					return
				}
			}

			if !yield(ev, nil) {
				return
			}
			if ev.Interrupted {
				return
			}
		}

		if interrupted || ctx.Err() != nil {
			final := invCtx.NewEvent()
			final.Interrupted = true
			_ = r.sessions.AppendEvent(ctx, key, final)
			yield(final, nil)
		}
	}
}

func (r *Runner) compact(ctx context.Context, sess *session.Session) {
	if r.compactor == nil {
		return
	}
	ev, err := r.compactor.CheckAndCompact(ctx, sess)
	if err != nil {
		slog.Warn("runner: compaction check failed", "session_id", sess.SessionID, "err", err)
		return
	}
	if ev == nil {
		return
	}
	key := session.Key{AppName: sess.AppName, UserID: sess.UserID, SessionID: sess.SessionID}
	if err := r.sessions.AppendEvent(ctx, key, ev); err != nil {
		slog.Error("runner: persisting compaction event failed", "session_id", sess.SessionID, "err", err)
	}
}

func (r *Runner) getOrCreateSession(ctx context.Context, key session.Key) (*session.Session, error) {
	sess, err := r.sessions.Get(ctx, key)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	return r.sessions.Create(ctx, key, make(map[string]any))
}

func (r *Runner) appendUserEvent(ctx context.Context, key session.Key, invCtx *agent.InvocationContext, c content.Content) (*event.Event, error) {
	ev := invCtx.NewEvent()
	ev.Author = "user"
	ev.WithContent(c)
	ev.TurnComplete = true
	if err := r.sessions.AppendEvent(ctx, key, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// findAgentToRun walks the session's event log backward looking for the most
// recent agent-authored event whose agent is still reachable via a
// permitted transfer, falling back to the root agent.
func (r *Runner) findAgentToRun(sess *session.Session) agent.Agent {
	events := sess.Events()
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev == nil || ev.Author == "user" || ev.Author == "" {
			continue
		}
		sub := agent.FindAgent(r.rootAgent, ev.Author)
		if sub == nil {
			slog.Debug("runner: event from unknown agent", "agent", ev.Author)
			continue
		}
		if r.isTransferableAcrossTree(sub) {
			return sub
		}
	}
	return r.rootAgent
}

// TransferRestrictable is implemented by agents that forbid being resumed
// via transfer from outside their own sub-tree.
type TransferRestrictable interface {
	DisallowTransferToParent() bool
}

func (r *Runner) isTransferableAcrossTree(ag agent.Agent) bool {
	for current := ag; current != nil; current = r.parents[current.Name()] {
		if restrictable, ok := current.(TransferRestrictable); ok && restrictable.DisallowTransferToParent() {
			return false
		}
	}
	return true
}

// FindAgent searches the runner's agent tree by name.
func (r *Runner) FindAgent(name string) agent.Agent { return agent.FindAgent(r.rootAgent, name) }

// ListAgents flattens the runner's agent tree.
func (r *Runner) ListAgents() []agent.Agent { return agent.ListAgents(r.rootAgent) }

// RootAgent returns the runner's root agent.
func (r *Runner) RootAgent() agent.Agent { return r.rootAgent }

// AppName returns the runner's configured application name.
func (r *Runner) AppName() string { return r.appName }

// ParentMap maps an agent name to its parent within the tree; the root maps
// to nil.
type ParentMap map[string]agent.Agent

// BuildParentMap walks root's tree and records each agent's parent,
// rejecting a tree with a duplicate agent name (which would otherwise make
// parent lookups and transfer targeting ambiguous).
func BuildParentMap(root agent.Agent) (ParentMap, error) {
	parents := make(ParentMap)
	if err := buildParentMap(root, nil, parents); err != nil {
		return nil, err
	}
	return parents, nil
}

func buildParentMap(ag, parent agent.Agent, parents ParentMap) error {
	if ag == nil {
		return nil
	}
	if _, exists := parents[ag.Name()]; exists {
		return fmt.Errorf("runner: duplicate agent name in tree: %s", ag.Name())
	}
	parents[ag.Name()] = parent
	for _, sub := range ag.SubAgents() {
		if err := buildParentMap(sub, ag, parents); err != nil {
			return err
		}
	}
	return nil
}
