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

// Package mcptoolset is a tool.Toolset backed by an MCP (Model Context
// Protocol) stdio server. The connection is established lazily, the first
// time Tools is called, so construction never blocks on a subprocess.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-adk/adk/adk/tool"
)

// Config describes how to launch and filter an MCP stdio server.
type Config struct {
	Name string
	// Command is the subprocess to launch (e.g. "npx").
	Command string
	Args    []string
	Env     map[string]string
	// Allow, when non-empty, restricts the toolset to these tool names.
	Allow []string
}

// Toolset is a lazily-connected tool.Toolset over one MCP stdio server.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
}

// New returns a Toolset that will connect on first use.
func New(cfg Config) *Toolset {
	return &Toolset{cfg: cfg}
}

func (t *Toolset) Name() string { return t.cfg.Name }

// Tools connects (if not already connected) and returns the server's
// advertised tools, filtered by Config.Allow if set.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, err
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcptoolset: create client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("mcptoolset: start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "adk", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcptoolset: initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcptoolset: list tools: %w", err)
	}

	var allow map[string]bool
	if len(t.cfg.Allow) > 0 {
		allow = make(map[string]bool, len(t.cfg.Allow))
		for _, n := range t.cfg.Allow {
			allow[n] = true
		}
	}

	var tools []tool.Tool
	for _, mt := range listResp.Tools {
		if allow != nil && !allow[mt.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset: t,
			name:    mt.Name,
			desc:    mt.Description,
			schema:  convertSchema(mt.InputSchema),
		})
	}

	t.client = mcpClient
	t.tools = tools
	t.connected = true
	return nil
}

// Close shuts down the underlying MCP subprocess, if connected.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.connected = false
	t.client = nil
	return err
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var _ tool.Toolset = (*Toolset)(nil)
