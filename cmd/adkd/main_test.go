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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/config"
)

func TestNewSessionServiceMemory(t *testing.T) {
	svc, cleanup, err := newSessionService(config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, svc)
}

func TestNewSessionServiceUnknownBackend(t *testing.T) {
	_, _, err := newSessionService(config.SessionConfig{Backend: "oracle", DSN: "x"})
	require.Error(t, err)
}

func TestNewConfigProviderRejectsUnknownBackend(t *testing.T) {
	_, err := newConfigProvider("carrier-pigeon", "adkd.yaml", nil)
	require.Error(t, err)
}

func TestEchoProviderEchoesLastMessage(t *testing.T) {
	p := &echoProvider{model: "test"}
	req := &llm.Request{Contents: []content.Content{
		content.NewText(content.RoleUser, "hello there"),
	}}

	var got *llm.Response
	for resp, err := range p.GenerateContent(context.Background(), req, false) {
		require.NoError(t, err)
		got = resp
	}
	require.NotNil(t, got)
	require.True(t, got.TurnComplete)
	require.Contains(t, got.Content.Text(), "hello there")
}
