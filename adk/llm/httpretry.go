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
	"fmt"
	"net/http"
	"time"
)

// RateLimitInfo is a provider's rate-limit accounting as reported on an
// HTTP response, parsed from whichever header convention that provider
// uses.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	TokensRemaining       int
	InputTokensRemaining  int
	OutputTokensRemaining int
}

// ParseOpenAIRateLimitHeaders extracts OpenAI's x-ratelimit-* convention.
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	var info RateLimitInfo
	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
			info.RetryAfter = seconds
		}
	}
	if resetStr := headers.Get("x-ratelimit-reset-requests"); resetStr != "" {
		fmt.Sscanf(resetStr, "%d", &info.ResetTime)
	} else if resetStr := headers.Get("x-ratelimit-reset-tokens"); resetStr != "" {
		fmt.Sscanf(resetStr, "%d", &info.ResetTime)
	}
	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		fmt.Sscanf(remaining, "%d", &info.RequestsRemaining)
	}
	if remaining := headers.Get("x-ratelimit-remaining-tokens"); remaining != "" {
		fmt.Sscanf(remaining, "%d", &info.TokensRemaining)
	}
	return info
}

// ParseAnthropicRateLimitHeaders extracts Anthropic's anthropic-ratelimit-*
// convention.
func ParseAnthropicRateLimitHeaders(headers http.Header) RateLimitInfo {
	var info RateLimitInfo
	if retryAfter := headers.Get("retry-after"); retryAfter != "" {
		if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
			info.RetryAfter = seconds
		}
	}
	if resetStr := headers.Get("anthropic-ratelimit-requests-reset"); resetStr != "" {
		if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
			info.ResetTime = resetTime.Unix()
		}
	}
	if remaining := headers.Get("anthropic-ratelimit-requests-remaining"); remaining != "" {
		fmt.Sscanf(remaining, "%d", &info.RequestsRemaining)
	}
	if remaining := headers.Get("anthropic-ratelimit-input-tokens-remaining"); remaining != "" {
		fmt.Sscanf(remaining, "%d", &info.InputTokensRemaining)
	}
	if remaining := headers.Get("anthropic-ratelimit-output-tokens-remaining"); remaining != "" {
		fmt.Sscanf(remaining, "%d", &info.OutputTokensRemaining)
	}
	return info
}

// TransientErrorFromHTTP builds a *TransientError carrying resp's
// rate-limit RetryAfter, parsed with whichever convention matches
// provider ("openai" or "anthropic"; any other value skips header
// parsing and just wraps err). A concrete HTTP-backed Provider calls this
// when translating a 429 or 5xx response into the error WithRetry and
// AdaptiveRateLimiter already know how to back off from.
func TransientErrorFromHTTP(provider string, resp *http.Response, err error) *TransientError {
	te := &TransientError{Err: err}
	if resp == nil {
		return te
	}
	var info RateLimitInfo
	switch provider {
	case "openai":
		info = ParseOpenAIRateLimitHeaders(resp.Header)
	case "anthropic":
		info = ParseAnthropicRateLimitHeaders(resp.Header)
	default:
		return te
	}
	te.RetryAfter = info.RetryAfter
	return te
}
