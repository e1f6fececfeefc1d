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
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way a specific model's tokenizer would,
// caching the underlying encoding per encoding name.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

// encodingNameForModel maps a model name to its tiktoken encoding, by exact
// match then prefix match, defaulting to cl100k_base for models (Claude,
// Gemini) that don't ship their own public tokenizer.
func encodingNameForModel(model string) string {
	byModel := map[string]string{
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-3.5-turbo": "cl100k_base",
	}
	if enc, ok := byModel[model]; ok {
		return enc
	}
	for prefix, enc := range byModel {
		if strings.HasPrefix(model, prefix) {
			return enc
		}
	}
	return "cl100k_base"
}

// NewTokenCounter returns a TokenCounter for model using the encoding
// encodingNameForModel picks, falling back to cl100k_base if that encoding
// fails to load, and to Count's chars/4 estimate if cl100k_base fails too.
func NewTokenCounter(model string) *TokenCounter {
	name := encodingNameForModel(model)

	encodingCacheMu.RLock()
	enc, ok := encodingCache[name]
	encodingCacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: enc}
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &TokenCounter{}
		}
	}

	encodingCacheMu.Lock()
	encodingCache[name] = enc
	encodingCacheMu.Unlock()
	return &TokenCounter{encoding: enc}
}

// Count returns the tokenizer's count for text, or a rough 4-chars-per-token
// estimate if no encoding could be loaded.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return len(text) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountRequest estimates req's total input token cost: system instruction
// plus every content's text. AdaptiveRateLimiter uses it for token-bucket
// accounting before each provider call.
func (c *TokenCounter) CountRequest(req *Request) int {
	tokens := c.Count(req.SystemInstruction)
	for _, content := range req.Contents {
		tokens += c.Count(content.Text())
	}
	return tokens
}
