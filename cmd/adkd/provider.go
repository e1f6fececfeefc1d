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

package main

import (
	"context"
	"fmt"
	"iter"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/config/provider"
)

// echoProvider is a placeholder llm.Provider that reflects the user's last
// message back as the model turn. It exists so this binary builds and runs
// end to end without an API key; an embedder wires in a real Provider
// (OpenAI, Anthropic, Gemini, Ollama, ...) in its place.
type echoProvider struct{ model string }

func (p *echoProvider) Name() string { return p.model }

func (p *echoProvider) GenerateContent(_ context.Context, req *llm.Request, _ bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		text := "(no input)"
		if n := len(req.Contents); n > 0 {
			text = req.Contents[n-1].Text()
		}
		reply := content.NewText(content.RoleModel, fmt.Sprintf("echo: %s", text))
		yield(&llm.Response{Content: &reply, TurnComplete: true}, nil)
	}
}

// newConfigProvider builds the config.Provider selected by the
// -config-backend flag: "file" (default), "consul", or "zookeeper".
func newConfigProvider(backend, path string, endpoints []string) (provider.Provider, error) {
	typ, err := provider.ParseType(backend)
	if err != nil {
		return nil, fmt.Errorf("adkd: %w", err)
	}
	return provider.New(provider.Options{Type: typ, Path: path, Endpoints: endpoints})
}
