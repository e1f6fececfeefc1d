package workflow_test

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/adk/session"
	"github.com/go-adk/adk/adk/workflow"
)

// scriptedProvider replays a single fixed response for every GenerateContent
// call, the same shape as adk/llm's own test double.
type scriptedProvider struct {
	resp *llm.Response
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) GenerateContent(_ context.Context, _ *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		yield(s.resp, nil)
	}
}

func newEchoAgent(t *testing.T, name, text string) agent.Agent {
	t.Helper()
	a, err := agent.NewLlmAgent(agent.Config{
		Name:     name,
		Provider: &scriptedProvider{resp: &llm.Response{Content: ptr(content.NewText(content.RoleModel, text)), TurnComplete: true}},
	})
	require.NoError(t, err)
	return a
}

func newEscalatingAgent(t *testing.T, name string) agent.Agent {
	t.Helper()
	a, err := agent.NewLlmAgent(agent.Config{
		Name:     name,
		Provider: &scriptedProvider{resp: &llm.Response{Content: ptr(content.NewText(content.RoleModel, "done")), TurnComplete: true}},
	})
	require.NoError(t, err)
	return escalatingAgent{a}
}

// escalatingAgent wraps an agent.Agent and sets Actions.Escalate on its
// final event, standing in for an agent that called exit_loop/escalate.
type escalatingAgent struct {
	agent.Agent
}

func (e escalatingAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for ev, err := range e.Agent.Run(ctx) {
			if err == nil && ev != nil {
				ev.Actions.Escalate = true
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

func ptr[T any](v T) *T { return &v }

func newInvocationCtx(t *testing.T, root agent.Agent) *agent.InvocationContext {
	t.Helper()
	svc := session.NewMemoryService()
	sess, err := svc.Create(context.Background(), session.Key{AppName: "app", UserID: "u1"}, nil)
	require.NoError(t, err)
	uc := content.NewText(content.RoleUser, "hi")
	return agent.NewInvocationContext(context.Background(), agent.Params{
		AppName:     "app",
		UserID:      "u1",
		Agent:       root,
		Session:     sess,
		UserContent: &uc,
	})
}

func TestSequentialRunsSubAgentsInOrder(t *testing.T) {
	a := newEchoAgent(t, "a", "first")
	b := newEchoAgent(t, "b", "second")
	seq, err := workflow.NewSequential(workflow.SequentialConfig{Name: "seq", SubAgents: []agent.Agent{a, b}})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, seq)
	var authors []string
	for ev, err := range seq.Run(ctx) {
		require.NoError(t, err)
		authors = append(authors, ev.Author)
	}
	require.Equal(t, []string{"a", "b"}, authors)
}

func TestSequentialStopsOnEscalate(t *testing.T) {
	a := newEscalatingAgent(t, "a")
	b := newEchoAgent(t, "b", "should-not-run")
	seq, err := workflow.NewSequential(workflow.SequentialConfig{Name: "seq", SubAgents: []agent.Agent{a, b}})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, seq)
	var authors []string
	for ev, err := range seq.Run(ctx) {
		require.NoError(t, err)
		authors = append(authors, ev.Author)
	}
	require.Equal(t, []string{"a"}, authors)
}

func TestLoopTerminatesOnExitLoopEscalate(t *testing.T) {
	counting := &countingEscalateAgent{name: "worker", escalateOn: 3}
	loop, err := workflow.NewLoop(workflow.LoopConfig{Name: "loop", SubAgents: []agent.Agent{counting}})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, loop)
	var events []*event.Event
	for ev, err := range loop.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Equal(t, 3, counting.calls)
	require.Len(t, events, 3)
	require.True(t, events[2].Actions.Escalate)
	require.False(t, events[0].Actions.Escalate)
	require.False(t, events[1].Actions.Escalate)
}

// countingEscalateAgent escalates on its escalateOn'th call and otherwise
// emits a plain text event, modeling a Loop body that calls exit_loop after
// a fixed number of rounds.
type countingEscalateAgent struct {
	name       string
	escalateOn int
	calls      int
}

func (c *countingEscalateAgent) Name() string        { return c.name }
func (c *countingEscalateAgent) Description() string { return "" }
func (c *countingEscalateAgent) SubAgents() []agent.Agent { return nil }

func (c *countingEscalateAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		c.calls++
		ev := ctx.NewEvent().WithContent(content.NewText(content.RoleModel, "tick"))
		if c.calls == c.escalateOn {
			ev.Actions.Escalate = true
		}
		yield(ev, nil)
	}
}

var _ agent.Agent = (*countingEscalateAgent)(nil)

func TestLoopRespectsMaxIterationsWhenNeverEscalating(t *testing.T) {
	never := &countingEscalateAgent{name: "worker", escalateOn: -1}
	loop, err := workflow.NewLoop(workflow.LoopConfig{Name: "loop", SubAgents: []agent.Agent{never}, MaxIterations: 5})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, loop)
	count := 0
	for ev, err := range loop.Run(ctx) {
		require.NoError(t, err)
		require.NotNil(t, ev)
		count++
	}
	require.Equal(t, 5, count)
	require.Equal(t, 5, never.calls)
}

func TestParallelMergesIndependentStateWrites(t *testing.T) {
	a := &stateWriterAgent{name: "a", key: "x", value: 1}
	b := &stateWriterAgent{name: "b", key: "y", value: 2}
	par, err := workflow.NewParallel(workflow.ParallelConfig{Name: "par", SubAgents: []agent.Agent{a, b}})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, par)
	var events []*event.Event
	for ev, err := range par.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 2)

	merged := map[string]any{}
	for _, ev := range events {
		for k, v := range ev.Actions.StateDelta {
			merged[k] = v
		}
	}
	require.Equal(t, 1, merged["x"])
	require.Equal(t, 2, merged["y"])
}

func TestParallelConflictFailOnCollidingKey(t *testing.T) {
	a := &stateWriterAgent{name: "a", key: "x", value: 1}
	b := &stateWriterAgent{name: "b", key: "x", value: 2}
	par, err := workflow.NewParallel(workflow.ParallelConfig{Name: "par", SubAgents: []agent.Agent{a, b}, Conflict: workflow.ConflictFail})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, par)
	var gotErr error
	for _, err := range par.Run(ctx) {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	require.Contains(t, gotErr.Error(), "x")
}

func TestParallelConflictNamespaceKeepsBothWrites(t *testing.T) {
	a := &stateWriterAgent{name: "a", key: "x", value: 1}
	b := &stateWriterAgent{name: "b", key: "x", value: 2}
	par, err := workflow.NewParallel(workflow.ParallelConfig{Name: "par", SubAgents: []agent.Agent{a, b}, Conflict: workflow.ConflictNamespace})
	require.NoError(t, err)

	ctx := newInvocationCtx(t, par)
	merged := map[string]any{}
	for ev, err := range par.Run(ctx) {
		require.NoError(t, err)
		for k, v := range ev.Actions.StateDelta {
			merged[k] = v
		}
	}
	require.Len(t, merged, 2)
	require.Contains(t, merged, "a:x")
	require.Contains(t, merged, "b:x")
}

// stateWriterAgent emits one event that writes a fixed state key/value.
type stateWriterAgent struct {
	name  string
	key   string
	value any
}

func (s *stateWriterAgent) Name() string             { return s.name }
func (s *stateWriterAgent) Description() string      { return "" }
func (s *stateWriterAgent) SubAgents() []agent.Agent { return nil }

func (s *stateWriterAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		ev := ctx.NewEvent()
		ev.Actions.StateDelta = map[string]any{s.key: s.value}
		yield(ev, nil)
	}
}

var _ agent.Agent = (*stateWriterAgent)(nil)
