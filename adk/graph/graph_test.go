package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/graph"
	"github.com/go-adk/adk/adk/session"
)

func newGraphInvocationCtx(t *testing.T, root agent.Agent) *agent.InvocationContext {
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

func incrementNode(key string, by int) *graph.FuncNode {
	return graph.NewFuncNode(key, func(_ context.Context, st graph.State) (map[string]any, error) {
		cur, _ := st.Get("count")
		n, _ := cur.(int)
		return map[string]any{"count": n + by}, nil
	})
}

func TestLinearGraphRunsToEnd(t *testing.T) {
	b := graph.NewBuilder("linear").
		Channels(map[string]any{"count": 0}).
		Node(incrementNode("a", 1)).
		Node(incrementNode("b", 2)).
		Edge(graph.START, "a").
		Edge("a", "b").
		Edge("b", graph.END)
	g, err := b.Build()
	require.NoError(t, err)

	ga, err := graph.New(graph.Config{Name: "g", Graph: g, Mode: graph.StreamValues})
	require.NoError(t, err)

	ctx := newGraphInvocationCtx(t, ga)
	var last map[string]any
	for ev, err := range ga.Run(ctx) {
		require.NoError(t, err)
		if ev.Actions.StateDelta != nil {
			last = ev.Actions.StateDelta
		}
	}
	require.Equal(t, 3, last["count"])
}

func TestConditionalEdgeSelectsBranch(t *testing.T) {
	b := graph.NewBuilder("cond").
		Channels(map[string]any{"count": 10}).
		Node(incrementNode("check", 0)).
		Node(incrementNode("high", 100)).
		Node(incrementNode("low", 1)).
		Edge(graph.START, "check").
		ConditionalEdge("check", "high", func(st graph.State) bool {
			v, _ := st.Get("count")
			n, _ := v.(int)
			return n >= 10
		}).
		ConditionalEdge("check", "low", func(graph.State) bool { return true }).
		Edge("high", graph.END).
		Edge("low", graph.END)
	g, err := b.Build()
	require.NoError(t, err)

	ga, err := graph.New(graph.Config{Name: "g", Graph: g, Mode: graph.StreamValues})
	require.NoError(t, err)

	ctx := newGraphInvocationCtx(t, ga)
	var last map[string]any
	for ev, err := range ga.Run(ctx) {
		require.NoError(t, err)
		if ev.Actions.StateDelta != nil {
			last = ev.Actions.StateDelta
		}
	}
	require.Equal(t, 110, last["count"])
}

func TestGraphStepLimitExceeded(t *testing.T) {
	b := graph.NewBuilder("loopy").
		Node(incrementNode("a", 1)).
		Edge(graph.START, "a").
		Edge("a", "a")
	g, err := b.Build()
	require.NoError(t, err)

	ga, err := graph.New(graph.Config{Name: "g", Graph: g, StepLimit: 3})
	require.NoError(t, err)

	ctx := newGraphInvocationCtx(t, ga)
	var gotErr error
	for _, err := range ga.Run(ctx) {
		if err != nil {
			gotErr = err
		}
	}
	require.ErrorIs(t, gotErr, graph.ErrStepLimitExceeded)
}

func TestGraphInterruptAndResume(t *testing.T) {
	confirmNode := graph.NewFuncNode("confirm", func(_ context.Context, st graph.State) (map[string]any, error) {
		if _, ok := st.Get("confirmed"); ok {
			return map[string]any{"done": true}, nil
		}
		return nil, &graph.InterruptError{Data: map[string]any{"need": "confirm"}}
	})

	b := graph.NewBuilder("approval").
		Node(confirmNode).
		Edge(graph.START, "confirm").
		Edge("confirm", graph.END)
	g, err := b.Build()
	require.NoError(t, err)

	ga, err := graph.New(graph.Config{Name: "g", Graph: g})
	require.NoError(t, err)

	ctx := newGraphInvocationCtx(t, ga)
	var sawInterrupt bool
	for ev, err := range ga.Run(ctx) {
		require.NoError(t, err)
		if ev.Interrupted {
			sawInterrupt = true
		}
	}
	require.True(t, sawInterrupt)

	threadID := ga.ThreadID(ctx)
	var sawDone bool
	for ev, err := range ga.Resume(ctx, threadID, map[string]any{"confirmed": "ok"}) {
		require.NoError(t, err)
		require.NotNil(t, ev)
		if ev.TurnComplete {
			sawDone = true
		}
	}
	require.True(t, sawDone)
}

func TestResumeOnNonSuspendedThreadFails(t *testing.T) {
	b := graph.NewBuilder("simple").
		Node(incrementNode("a", 1)).
		Edge(graph.START, "a").
		Edge("a", graph.END)
	g, err := b.Build()
	require.NoError(t, err)

	ga, err := graph.New(graph.Config{Name: "g", Graph: g})
	require.NoError(t, err)

	ctx := newGraphInvocationCtx(t, ga)
	var gotErr error
	for _, err := range ga.Resume(ctx, "no-such-thread", nil) {
		if err != nil {
			gotErr = err
		}
	}
	require.ErrorIs(t, gotErr, graph.ErrThreadNotSuspended)
}

func TestBuilderRejectsMissingStartEdge(t *testing.T) {
	b := graph.NewBuilder("no-start").Node(incrementNode("a", 1))
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuilderRejectsDuplicateNodeName(t *testing.T) {
	b := graph.NewBuilder("dup").Node(incrementNode("a", 1)).Node(incrementNode("a", 2))
	_, err := b.Build()
	require.Error(t, err)
}
