package llm_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
)

// scriptedProvider replays a fixed sequence of responses/errors, used to
// drive the retry wrapper deterministically.
type scriptedProvider struct {
	script []scriptStep
	calls  int
}

type scriptStep struct {
	resp *llm.Response
	err  error
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) GenerateContent(_ context.Context, _ *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		step := s.script[s.calls]
		s.calls++
		yield(step.resp, step.err)
	}
}

func TestWithRetryRetriesOnTransientError(t *testing.T) {
	final := &llm.Response{Content: &content.Content{Parts: []content.Part{content.TextPart("ok")}}, TurnComplete: true}
	sp := &scriptedProvider{script: []scriptStep{
		{err: &llm.TransientError{Err: context.DeadlineExceeded}},
		{resp: final},
	}}

	p := llm.WithRetry(sp, llm.RetryConfig{MaxElapsedTime: time.Second, MaxRetries: 3})
	var got *llm.Response
	for resp, err := range p.GenerateContent(context.Background(), &llm.Request{}, false) {
		require.NoError(t, err)
		got = resp
	}
	require.Equal(t, 2, sp.calls)
	require.Equal(t, "ok", got.Content.Text())
}

func TestWithRetryDoesNotRetryPermanentError(t *testing.T) {
	sp := &scriptedProvider{script: []scriptStep{
		{err: errors.New("invalid api key")},
	}}
	p := llm.WithRetry(sp, llm.DefaultRetryConfig())
	var gotErr error
	for _, err := range p.GenerateContent(context.Background(), &llm.Request{}, false) {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	require.Equal(t, 1, sp.calls)
}

func TestAdaptiveRateLimiterDoesNotRetryTransientError(t *testing.T) {
	limiter := llm.NewAdaptiveRateLimiter(600, 1200)
	sp := &scriptedProvider{script: []scriptStep{
		{err: &llm.TransientError{Err: context.DeadlineExceeded}},
	}}
	wrapped := limiter.Wrap(sp)
	for range wrapped.GenerateContent(context.Background(), &llm.Request{}, false) {
	}
	require.Equal(t, 1, sp.calls)
}
