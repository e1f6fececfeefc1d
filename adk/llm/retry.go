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

package llm

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TransientError wraps a provider error known to be retryable: network
// failure, 5xx, or a rate-limit response. Non-transient errors (auth,
// malformed request, safety block) must not be wrapped and terminate the
// invocation immediately.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error  { return e.Err }

// RetryConfig bounds the backoff applied around a non-streaming
// GenerateContent call.
type RetryConfig struct {
	MaxElapsedTime time.Duration
	MaxRetries     uint64
}

// DefaultRetryConfig mirrors a conservative provider SLA: retry for up to
// 30s total across at most 5 retries (6 attempts).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxElapsedTime: 30 * time.Second, MaxRetries: 5}
}

// WithRetry wraps p so that a single GenerateContent call is retried with
// exponential backoff whenever the underlying iterator's error is a
// *TransientError. Only non-streaming calls are retried; streaming calls
// are passed through unretried, and any failure on them is surfaced to the
// caller.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	return &retryingProvider{next: p, cfg: cfg}
}

type retryingProvider struct {
	next Provider
	cfg  RetryConfig
}

func (r *retryingProvider) Name() string { return r.next.Name() }

func (r *retryingProvider) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	if !stream {
		return r.generateWithRetry(ctx, req)
	}
	return r.next.GenerateContent(ctx, req, stream)
}

func (r *retryingProvider) generateWithRetry(ctx context.Context, req *Request) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		b := backoff.WithContext(r.newBackoff(), ctx)

		var lastResp *Response
		op := func() error {
			var firstErr error
			var resp *Response
			for r, err := range r.next.GenerateContent(ctx, req, false) {
				if err != nil {
					firstErr = err
					continue
				}
				resp = r
			}
			if firstErr != nil {
				var transient *TransientError
				if errors.As(firstErr, &transient) {
					if transient.RetryAfter > 0 {
						time.Sleep(transient.RetryAfter)
					}
					return firstErr
				}
				return backoff.Permanent(firstErr)
			}
			lastResp = resp
			return nil
		}

		if err := backoff.Retry(op, b); err != nil {
			yield(nil, err)
			return
		}
		yield(lastResp, nil)
	}
}

func (r *retryingProvider) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if r.cfg.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = r.cfg.MaxElapsedTime
	}
	var b backoff.BackOff = eb
	if r.cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, r.cfg.MaxRetries)
	}
	return b
}

var _ Provider = (*retryingProvider)(nil)
