package agent_test

import (
	"context"
	"encoding/json"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/guardrail"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/adk/session"
	"github.com/go-adk/adk/adk/tool"
)

// scriptedProvider replays a fixed sequence of responses, one per call, the
// same test double idiom adk/llm/llm_test.go uses.
type scriptedProvider struct {
	responses [][]*llm.Response
	calls     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) GenerateContent(_ context.Context, _ *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	idx := s.calls
	s.calls++
	return func(yield func(*llm.Response, error) bool) {
		if idx >= len(s.responses) {
			return
		}
		for _, r := range s.responses[idx] {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func ptr[T any](v T) *T { return &v }

func newInvocationCtx(t *testing.T, a agent.Agent, uc *content.Content) *agent.InvocationContext {
	t.Helper()
	svc := session.NewMemoryService()
	sess, err := svc.Create(context.Background(), session.Key{AppName: "app", UserID: "u1", SessionID: "s1"}, nil)
	require.NoError(t, err)
	return agent.NewInvocationContext(context.Background(), agent.Params{
		AppName:     "app",
		UserID:      "u1",
		Agent:       a,
		Session:     sess,
		UserContent: uc,
		Branch:      a.Name(),
	})
}

func TestNewLlmAgentRejectsEmptyName(t *testing.T) {
	_, err := agent.NewLlmAgent(agent.Config{Provider: &scriptedProvider{}})
	require.Error(t, err)
}

func TestNewLlmAgentRejectsReservedUserName(t *testing.T) {
	_, err := agent.NewLlmAgent(agent.Config{Name: "user", Provider: &scriptedProvider{}})
	require.ErrorIs(t, err, agent.ErrAgentNameReserved)
}

func TestNewLlmAgentRequiresProvider(t *testing.T) {
	_, err := agent.NewLlmAgent(agent.Config{Name: "a"})
	require.Error(t, err)
}

func TestLlmAgentRunEmitsFinalTextEvent(t *testing.T) {
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{Content: ptr(content.NewText(content.RoleModel, "hi there")), TurnComplete: true}},
	}}
	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "hello")
	ctx := newInvocationCtx(t, a, &uc)

	var events []*event.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	require.Equal(t, "hi there", events[0].Content().Text())
	require.True(t, events[0].TurnComplete)
}

func TestLlmAgentRunStreamsPartialChunksBeforeFinal(t *testing.T) {
	p := &scriptedProvider{responses: [][]*llm.Response{
		{
			{Content: ptr(content.NewText(content.RoleModel, "he")), Partial: true},
			{Content: ptr(content.NewText(content.RoleModel, "llo")), Partial: true},
			{Content: ptr(content.NewText(content.RoleModel, "hello")), TurnComplete: true},
		},
	}}
	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "hi")
	svc := session.NewMemoryService()
	sess, err := svc.Create(context.Background(), session.Key{AppName: "app", UserID: "u1", SessionID: "s1"}, nil)
	require.NoError(t, err)
	ctx := agent.NewInvocationContext(context.Background(), agent.Params{
		AppName:     "app",
		UserID:      "u1",
		Agent:       a,
		Session:     sess,
		UserContent: &uc,
		RunConfig:   &agent.RunConfig{StreamingEnabled: true, MaxToolIterations: 10},
		Branch:      a.Name(),
	})

	var partials, finals int
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		if ev.Partial {
			partials++
		} else {
			finals++
		}
	}
	require.Equal(t, 2, partials)
	require.Equal(t, 1, finals)
}

func TestLlmAgentDispatchesToolCallAndReprompts(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"x": 1})
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role:  content.RoleModel,
				Parts: []content.Part{content.FunctionCallPart("call-1", "double", args)},
			}),
			TurnComplete: true,
		}},
		{{Content: ptr(content.NewText(content.RoleModel, "2")), TurnComplete: true}},
	}}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "double", result: json.RawMessage(`{"result":2}`)}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "double 1")
	ctx := newInvocationCtx(t, a, &uc)

	var sawFunctionCall, sawFunctionResponse bool
	var lastText string
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		if len(ev.Content().FunctionCalls()) > 0 {
			sawFunctionCall = true
		}
		if len(ev.Content().FunctionResponses()) > 0 {
			sawFunctionResponse = true
		}
		if txt := ev.Content().Text(); txt != "" {
			lastText = txt
		}
	}
	require.True(t, sawFunctionCall)
	require.True(t, sawFunctionResponse)
	require.Equal(t, "2", lastText)
}

func TestLlmAgentMixedBatchEmitsCompletedResponsesBeforeSuspending(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"x": 1})
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role: content.RoleModel,
				Parts: []content.Part{
					content.FunctionCallPart("call-1", "quick", args),
					content.FunctionCallPart("call-2", "slow", args),
				},
			}),
			TurnComplete: true,
		}},
	}}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "quick", result: json.RawMessage(`{"ok":true}`)}))
	require.NoError(t, tools.Register(&longRunningTool{name: "slow"}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "both")
	ctx := newInvocationCtx(t, a, &uc)

	var events []*event.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	// model(2 FunctionCalls), tool(FunctionResponse for call-1), suspend.
	require.Len(t, events, 3)
	responses := events[1].Content().FunctionResponses()
	require.Len(t, responses, 1)
	require.Equal(t, "call-1", responses[0].ID)
	require.Equal(t, []string{"call-2"}, events[2].Actions.PendingToolCallIDs)
	require.True(t, ctx.Ended())
}

func TestLlmAgentAssignsCallIDWhenProviderOmitsIt(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"x": 1})
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role:  content.RoleModel,
				Parts: []content.Part{content.FunctionCallPart("", "double", args)},
			}),
			TurnComplete: true,
		}},
		{{Content: ptr(content.NewText(content.RoleModel, "2")), TurnComplete: true}},
	}}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "double", result: json.RawMessage(`{"result":2}`)}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "double 1")
	ctx := newInvocationCtx(t, a, &uc)

	var callID string
	var responseID string
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		if calls := ev.Content().FunctionCalls(); len(calls) > 0 {
			callID = calls[0].ID
		}
		if resps := ev.Content().FunctionResponses(); len(resps) > 0 {
			responseID = resps[0].ID
		}
	}
	require.NotEmpty(t, callID)
	require.Equal(t, callID, responseID)
}

// recordingProvider records the Contents it was asked to generate over, so a
// test can assert the prompt on a later call actually carries the earlier
// tool call/response rather than repeating the first call's prompt verbatim.
type recordingProvider struct {
	responses [][]*llm.Response
	calls     int
	seen      [][]content.Content
}

func (r *recordingProvider) Name() string { return "recording" }

func (r *recordingProvider) GenerateContent(_ context.Context, req *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	idx := r.calls
	r.calls++
	r.seen = append(r.seen, req.Contents)
	return func(yield func(*llm.Response, error) bool) {
		if idx >= len(r.responses) {
			return
		}
		for _, resp := range r.responses[idx] {
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func TestLlmAgentRepromptIncludesPriorToolCallAndResponse(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"x": 1})
	p := &recordingProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role:  content.RoleModel,
				Parts: []content.Part{content.FunctionCallPart("call-1", "double", args)},
			}),
			TurnComplete: true,
		}},
		{{Content: ptr(content.NewText(content.RoleModel, "2")), TurnComplete: true}},
	}}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "double", result: json.RawMessage(`{"result":2}`)}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "double 1")
	ctx := newInvocationCtx(t, a, &uc)

	for _, err := range a.Run(ctx) {
		require.NoError(t, err)
	}

	require.Len(t, p.seen, 2)
	require.Len(t, p.seen[0], 1, "first call only sees the user turn")

	second := p.seen[1]
	var sawCall, sawResponse bool
	for _, c := range second {
		if len(c.FunctionCalls()) > 0 {
			sawCall = true
		}
		if len(c.FunctionResponses()) > 0 {
			sawResponse = true
		}
	}
	require.True(t, sawCall, "second call must see the first call's FunctionCall")
	require.True(t, sawResponse, "second call must see the tool's FunctionResponse")
}

func TestLlmAgentEscalateStopsTheLoop(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"reason": "stuck"})
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role:  content.RoleModel,
				Parts: []content.Part{content.FunctionCallPart("call-1", "escalate", args)},
			}),
			TurnComplete: true,
		}},
	}}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "escalate", result: json.RawMessage(`{"status":"escalated"}`)}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "help")
	ctx := newInvocationCtx(t, a, &uc)

	var events []*event.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	// The model's event carries the function call itself; applyControlActions
	// runs over the dispatched tool's resulting event, which is the one that
	// actually carries Actions.Escalate and stops the loop.
	require.Len(t, events, 2)
	require.True(t, events[1].Actions.Escalate)
}

func TestLlmAgentExhaustsToolLoopAndReturnsError(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"x": 1})
	resp := []*llm.Response{{
		Content: ptr(content.Content{
			Role:  content.RoleModel,
			Parts: []content.Part{content.FunctionCallPart("call-1", "loopy", args)},
		}),
		TurnComplete: true,
	}}
	var all [][]*llm.Response
	for i := 0; i < 11; i++ {
		all = append(all, resp)
	}
	p := &scriptedProvider{responses: all}

	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&stubTool{name: "loopy", result: json.RawMessage(`{"ok":true}`)}))

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "go")
	ctx := newInvocationCtx(t, a, &uc)

	var sawErr bool
	for _, err := range a.Run(ctx) {
		if err != nil {
			sawErr = true
			require.ErrorIs(t, err, tool.ErrToolLoopExhausted)
		}
	}
	require.True(t, sawErr)
}

func TestLlmAgentOutputKeyWritesStateDelta(t *testing.T) {
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{Content: ptr(content.NewText(content.RoleModel, "final answer")), TurnComplete: true}},
	}}
	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, OutputKey: "answer"})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "q")
	ctx := newInvocationCtx(t, a, &uc)

	var last *event.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		last = ev
	}
	require.Equal(t, "final answer", last.Actions.StateDelta["answer"])
}

func TestLlmAgentInputGuardrailRewritesContent(t *testing.T) {
	p := &recordingProvider{}
	gr := &captureGuardrail{
		result: guardrail.Modified(content.NewText(content.RoleUser, "[redacted]")),
	}
	a, err := agent.NewLlmAgent(agent.Config{
		Name:            "a",
		Provider:        p,
		InputGuardrails: guardrail.NewSet(guardrail.SeverityHigh, gr),
	})
	require.NoError(t, err)
	p.responses = [][]*llm.Response{
		{{Content: ptr(content.NewText(content.RoleModel, "ok")), TurnComplete: true}},
	}

	uc := content.NewText(content.RoleUser, "secret")
	ctx := newInvocationCtx(t, a, &uc)

	for _, err := range a.Run(ctx) {
		require.NoError(t, err)
	}
	require.Equal(t, "secret", gr.seen.Text())
	require.Equal(t, "[redacted]", p.seen[0][len(p.seen[0])-1].Text())
}

func TestLlmAgentOutputGuardrailFailureSurfacesError(t *testing.T) {
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{Content: ptr(content.NewText(content.RoleModel, "bad word")), TurnComplete: true}},
	}}
	gr := &captureGuardrail{result: guardrail.Fail("blocked", guardrail.SeverityCritical)}
	a, err := agent.NewLlmAgent(agent.Config{
		Name:             "a",
		Provider:         p,
		OutputGuardrails: guardrail.NewSet(guardrail.SeverityHigh, gr),
	})
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "q")
	ctx := newInvocationCtx(t, a, &uc)

	var sawErr bool
	for _, err := range a.Run(ctx) {
		if err != nil {
			sawErr = true
		}
	}
	require.True(t, sawErr)
}

func TestLlmAgentResolvesApprovalDecision(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"amount": 100})
	p := &scriptedProvider{responses: [][]*llm.Response{
		{{
			Content: ptr(content.Content{
				Role:  content.RoleModel,
				Parts: []content.Part{content.FunctionCallPart("call-1", "transfer_funds", args)},
			}),
			TurnComplete: true,
		}},
	}}

	executed := false
	tools := tool.NewRegistry()
	require.NoError(t, tools.Register(&execTool{
		name: "transfer_funds",
		exec: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			executed = true
			return json.RawMessage(`{"status":"done"}`), nil
		},
	}))

	approve := func(_ context.Context, callID, _ string, _ json.RawMessage) error {
		return &tool.ApprovalRequiredError{ActionID: callID, Rationale: "large transfer", Risk: "dangerous"}
	}

	a, err := agent.NewLlmAgent(agent.Config{Name: "a", Provider: p, Tools: tools, Approve: approve})
	require.NoError(t, err)

	key := session.Key{AppName: "app", UserID: "u1", SessionID: "s1"}
	svc := session.NewMemoryService()
	sess, err := svc.Create(context.Background(), key, nil)
	require.NoError(t, err)

	uc := content.NewText(content.RoleUser, "send $100")
	ctx := agent.NewInvocationContext(context.Background(), agent.Params{
		AppName: "app", UserID: "u1", Agent: a, Session: sess, UserContent: &uc, Branch: a.Name(),
	})

	var suspendEv *event.Event
	for ev, err := range a.Run(ctx) {
		require.NoError(t, err)
		require.NoError(t, svc.AppendEvent(context.Background(), key, ev))
		suspendEv = ev
	}
	require.NotNil(t, suspendEv)
	require.NotNil(t, suspendEv.Actions.ApprovalRequest)
	require.Equal(t, "call-1", suspendEv.Actions.ApprovalRequest.ActionID)
	require.False(t, executed)

	// AppendEvent mutates the service's own copy; re-fetch so the resumed
	// context sees the persisted FunctionCall event findPendingCall needs.
	sess2, err := svc.Get(context.Background(), key)
	require.NoError(t, err)

	decisionPayload, _ := json.Marshal(map[string]any{"action_id": "call-1", "approved": true})
	decisionContent := content.Content{
		Role:  content.RoleTool,
		Parts: []content.Part{content.FunctionResponsePart("", "__approval_decision__", decisionPayload)},
	}
	ctx2 := agent.NewInvocationContext(context.Background(), agent.Params{
		AppName: "app", UserID: "u1", Agent: a, Session: sess2, UserContent: &decisionContent, Branch: a.Name(),
	})

	var resolved []*event.Event
	for ev, err := range a.Run(ctx2) {
		require.NoError(t, err)
		resolved = append(resolved, ev)
	}
	require.Len(t, resolved, 1)
	require.True(t, executed)
	require.Len(t, resolved[0].Content().FunctionResponses(), 1)
}

func TestFindAgentAndListAgentsWalkSubAgentTree(t *testing.T) {
	leaf, err := agent.NewLlmAgent(agent.Config{Name: "leaf", Provider: &scriptedProvider{}})
	require.NoError(t, err)
	root := &containerAgent{name: "root", subs: []agent.Agent{leaf}}

	require.Equal(t, leaf, agent.FindAgent(root, "leaf"))
	require.Nil(t, agent.FindAgent(root, "missing"))
	require.Len(t, agent.ListAgents(root), 2)
}

type containerAgent struct {
	name string
	subs []agent.Agent
}

func (c *containerAgent) Name() string             { return c.name }
func (c *containerAgent) Description() string      { return "" }
func (c *containerAgent) SubAgents() []agent.Agent { return c.subs }
func (c *containerAgent) Run(ctx *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {}
}

type stubTool struct {
	name   string
	result json.RawMessage
}

func (s *stubTool) Name() string           { return s.name }
func (s *stubTool) Description() string    { return "stub" }
func (s *stubTool) Schema() map[string]any { return map[string]any{"type": "object", "properties": map[string]any{}} }
func (s *stubTool) IsLongRunning() bool     { return false }
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return s.result, nil
}

type longRunningTool struct {
	name string
}

func (l *longRunningTool) Name() string           { return l.name }
func (l *longRunningTool) Description() string    { return "stub" }
func (l *longRunningTool) Schema() map[string]any { return map[string]any{"type": "object", "properties": map[string]any{}} }
func (l *longRunningTool) IsLongRunning() bool    { return true }
func (l *longRunningTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

type execTool struct {
	name string
	exec func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (e *execTool) Name() string           { return e.name }
func (e *execTool) Description() string    { return "stub" }
func (e *execTool) Schema() map[string]any { return map[string]any{"type": "object", "properties": map[string]any{}} }
func (e *execTool) IsLongRunning() bool     { return false }
func (e *execTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return e.exec(ctx, args)
}

type captureGuardrail struct {
	seen   content.Content
	result guardrail.Result
}

func (g *captureGuardrail) Name() string { return "capture" }
func (g *captureGuardrail) Check(_ context.Context, c content.Content) (guardrail.Result, error) {
	g.seen = c
	return g.result, nil
}
