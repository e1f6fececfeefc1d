package realtime_test

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/adk/realtime"
	"github.com/go-adk/adk/adk/runner"
	"github.com/go-adk/adk/adk/session"
)

// echoProvider turns the last user text into a single non-partial model turn.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) GenerateContent(_ context.Context, req *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		text := ""
		if n := len(req.Contents); n > 0 {
			text = req.Contents[n-1].Text()
		}
		resp := &llm.Response{
			Content:      &content.Content{Role: content.RoleModel, Parts: []content.Part{content.TextPart(text)}},
			TurnComplete: true,
		}
		yield(resp, nil)
	}
}

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	ag, err := agent.NewLlmAgent(agent.Config{
		Name:     "echo",
		Provider: echoProvider{},
	})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{
		AppName:        "realtime-test",
		Agent:          ag,
		SessionService: session.NewMemoryService(),
	})
	require.NoError(t, err)
	return r
}

func TestAudioFormatDurationMS(t *testing.T) {
	f := realtime.PCM16At16kHz()
	require.Equal(t, 16000*2, f.BytesPerSecond())
	require.InDelta(t, 500.0, f.DurationMS(16000), 0.001)
}

func TestAudioFormatZeroRateDoesNotPanic(t *testing.T) {
	var f realtime.AudioFormat
	require.Equal(t, 0.0, f.DurationMS(100))
}

func TestConnectRequiresRunner(t *testing.T) {
	_, err := realtime.Connect(context.Background(), nil, "u", "s", realtime.Config{})
	require.Error(t, err)
}

func TestSendTextEchoesThroughEvents(t *testing.T) {
	r := newTestRunner(t)
	sess, err := realtime.Connect(context.Background(), r, "u1", "s1", realtime.Config{})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SendText(context.Background(), "hello"))

	var gotText string
	var gotDone bool
	for ev, err := range sess.Events() {
		require.NoError(t, err)
		switch ev.Kind {
		case realtime.KindTextDelta:
			gotText += ev.TextDelta
		case realtime.KindResponseDone:
			gotDone = true
		}
		if gotDone {
			break
		}
	}
	require.Equal(t, "hello", gotText)
	require.True(t, gotDone)
}

// gateProvider blocks its first generation until released (or cancelled), so
// a test can guarantee a turn is still in flight when the next utterance
// arrives.
type gateProvider struct {
	echo    echoProvider
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gateProvider) Name() string { return "gate" }

func (g *gateProvider) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		first := false
		g.once.Do(func() {
			first = true
			close(g.started)
		})
		if first {
			select {
			case <-g.release:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		for resp, err := range g.echo.GenerateContent(ctx, req, stream) {
			if !yield(resp, err) {
				return
			}
		}
	}
}

func TestNewUtteranceInterruptsInFlightResponse(t *testing.T) {
	p := &gateProvider{started: make(chan struct{}), release: make(chan struct{})}
	ag, err := agent.NewLlmAgent(agent.Config{Name: "echo", Provider: p})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{
		AppName:        "realtime-test",
		Agent:          ag,
		SessionService: session.NewMemoryService(),
	})
	require.NoError(t, err)

	sess, err := realtime.Connect(context.Background(), r, "u2", "s2", realtime.Config{})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SendText(context.Background(), "first"))
	<-p.started
	require.NoError(t, sess.SendText(context.Background(), "second"))
	close(p.release)

	var sawInterrupted bool
	var responsesDone int
	for ev, err := range sess.Events() {
		require.NoError(t, err)
		if ev.Kind == realtime.KindInterrupted {
			sawInterrupted = true
		}
		if ev.Kind == realtime.KindResponseDone {
			responsesDone++
		}
		if responsesDone >= 1 && sawInterrupted {
			break
		}
	}
	require.True(t, sawInterrupted, "expected an Interrupted event for the superseded turn")
}

func TestFollowUpAfterCompletedTurnEmitsNoInterrupted(t *testing.T) {
	r := newTestRunner(t)
	sess, err := realtime.Connect(context.Background(), r, "u4", "s4", realtime.Config{})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SendText(context.Background(), "first"))
	for ev, err := range sess.Events() {
		require.NoError(t, err)
		if ev.Kind == realtime.KindResponseDone {
			break
		}
	}
	// Let the first turn's goroutine retire so the session sees it as
	// completed rather than in flight.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, sess.SendText(context.Background(), "second"))
	var sawInterrupted bool
	for ev, err := range sess.Events() {
		require.NoError(t, err)
		if ev.Kind == realtime.KindInterrupted {
			sawInterrupted = true
		}
		if ev.Kind == realtime.KindResponseDone {
			break
		}
	}
	require.False(t, sawInterrupted, "a completed turn must not be retroactively interrupted")
}

func TestReplayReturnsErrResumeUnavailableWhenHistoryAged(t *testing.T) {
	r := newTestRunner(t)
	sess, err := realtime.Connect(context.Background(), r, "u3", "s3", realtime.Config{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Replay(999999)
	require.ErrorIs(t, err, realtime.ErrResumeUnavailable)
}
