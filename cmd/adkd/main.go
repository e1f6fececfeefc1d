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

// Command adkd is a thin example binary that wires the adk packages
// together into a runnable agent server: it loads a RunnerConfig, builds a
// session service and approval gate from it, constructs a single LlmAgent
// around a placeholder provider, and serves both a turn-based HTTP
// endpoint and a realtime websocket endpoint over the resulting Runner.
//
// Usage:
//
//	adkd -config adkd.yaml
//	adkd -config adkd.yaml -config-backend consul -config-endpoints 127.0.0.1:8500
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-adk/adk/adk/agent"
	"github.com/go-adk/adk/adk/approval"
	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/llm"
	"github.com/go-adk/adk/adk/realtime"
	"github.com/go-adk/adk/adk/runner"
	"github.com/go-adk/adk/adk/session"
	"github.com/go-adk/adk/config"
)

func main() {
	var (
		configPath      = flag.String("config", "adkd.yaml", "path to the RunnerConfig file (or key path for consul/zookeeper)")
		configBackend   = flag.String("config-backend", "file", "config provider: file, consul, or zookeeper")
		configEndpoints = flag.String("config-endpoints", "", "comma-separated consul/zookeeper endpoints")
		addr            = flag.String("addr", ":8080", "HTTP listen address")
		enableRealtime  = flag.Bool("realtime", true, "mount the /v1/realtime websocket endpoint")
		realtimeOrigins = flag.String("realtime-origins", "", "comma-separated allowed websocket Origin headers (empty allows all)")
		enableTracing   = flag.Bool("trace", false, "export runner spans through the configured logger")
	)
	flag.Parse()

	if err := run(*configPath, *configBackend, *configEndpoints, *addr, *enableRealtime, *realtimeOrigins, *enableTracing); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, configBackend, configEndpoints, addr string, enableRealtime bool, realtimeOrigins string, enableTracing bool) error {
	if err := config.LoadDotEnv(""); err != nil {
		return fmt.Errorf("adkd: loading .env: %w", err)
	}

	var endpoints []string
	if configEndpoints != "" {
		endpoints = strings.Split(configEndpoints, ",")
	}
	cp, err := newConfigProvider(configBackend, configPath, endpoints)
	if err != nil {
		return err
	}
	defer cp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewLoader(cp).Load(ctx)
	if err != nil {
		return fmt.Errorf("adkd: loading config: %w", err)
	}

	logger, cleanupLog, err := newLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanupLog()
	slog.SetDefault(logger)

	if enableTracing {
		shutdownTracing, terr := initTracing(ctx, cfg.AppName)
		if terr != nil {
			return terr
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			shutdownTracing(flushCtx)
		}()
	}

	sessions, closeSessions, err := newSessionService(cfg.Session)
	if err != nil {
		return err
	}
	defer closeSessions()

	gate := approval.NewGate("adkd")
	if key := os.Getenv("ADK_APPROVAL_SIGNING_KEY"); key != "" {
		gate.Signer = approval.NewTokenSigner([]byte(key), "adkd")
	}

	root, err := agent.NewLlmAgent(agent.Config{
		Name:              cfg.AppName,
		Description:       "example adkd agent",
		Provider:          llm.WithRetry(&echoProvider{model: "adkd-echo"}, llm.DefaultRetryConfig()),
		SystemInstruction: "You are a helpful assistant.",
		Approve:           gate.Check,
	})
	if err != nil {
		return fmt.Errorf("adkd: building agent: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        cfg.AppName,
		Agent:          root,
		SessionService: sessions,
	})
	if err != nil {
		return fmt.Errorf("adkd: building runner: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/run", runHandler(r, cfg))
	if enableRealtime {
		var origins []string
		if realtimeOrigins != "" {
			origins = strings.Split(realtimeOrigins, ",")
		}
		rtCfg := realtime.Config{
			Instruction:       "You are a helpful assistant.",
			InputAudioFormat:  realtime.PCM16At16kHz(),
			OutputAudioFormat: realtime.PCM16At24kHz(),
		}
		mux.Handle("/v1/realtime", realtime.NewServer(r, rtCfg, origins))
	}

	srv := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("adkd: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	if cfg.Session.Backend != "memory" {
		go func() {
			if werr := config.NewLoader(cp).Watch(ctx); werr != nil && ctx.Err() == nil {
				slog.Warn("adkd: config watch ended", "error", werr)
			}
		}()
	}

	slog.Info("adkd: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adkd: serving: %w", err)
	}
	return nil
}

// newSessionService builds a session.Service per cfg.Backend: an in-memory
// store, or a database/sql-backed store opened against cfg.DSN with the
// driver matching the backend name.
func newSessionService(cfg config.SessionConfig) (session.Service, func(), error) {
	if cfg.Backend == "memory" {
		return session.NewMemoryService(), func() {}, nil
	}

	driverName := cfg.Backend
	if driverName == "sqlite" {
		driverName = "sqlite3" // mattn/go-sqlite3's registered driver name
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("adkd: opening %s database: %w", cfg.Backend, err)
	}
	svc, err := session.NewSQLService(db, cfg.Backend)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return svc, func() { _ = db.Close() }, nil
}

// runRequest is the /v1/run request body.
type runRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// runHandler drives one Runner.Run call and streams its Events back as
// newline-delimited JSON, flushing after every event so a client sees
// partial turns as they're produced.
func runHandler(r *runner.Runner, cfg *config.RunnerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body runRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.UserID == "" || body.SessionID == "" {
			http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(req.Context(), cfg.InvocationTimeout())
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)

		userContent := content.NewText(content.RoleUser, body.Text)
		runCfg := &agent.RunConfig{MaxToolIterations: cfg.MaxToolIterations}
		enc := json.NewEncoder(w)
		for ev, err := range r.Run(ctx, body.UserID, body.SessionID, userContent, runCfg) {
			if err != nil {
				_ = enc.Encode(map[string]string{"error": err.Error()})
				break
			}
			if encErr := enc.Encode(ev); encErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
