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

package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/runner"
)

// EnvelopeVersion is the wire version stamped on every server-sent frame.
const EnvelopeVersion = "v0"

// Envelope is the wire shape of one server-sent frame.
type Envelope struct {
	V       string          `json:"v"`
	Seq     uint64          `json:"seq"`
	Session string          `json:"session"`
	TS      time.Time       `json:"ts"`
	Payload EnvelopePayload `json:"payload"`
}

// EnvelopePayload carries the tagged ServerEvent kind and its data.
type EnvelopePayload struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// inboundFrame is the client->server message shape: one of text, audio
// (raw bytes), tool_response, resume or close.
type inboundFrame struct {
	Kind     string                    `json:"kind"`
	Text     string                    `json:"text,omitempty"`
	Audio    []byte                    `json:"audio,omitempty"`
	ToolResp *content.FunctionResponse `json:"tool_response,omitempty"`
	LastSeq  uint64                    `json:"last_seq,omitempty"`
}

// Server upgrades HTTP connections to WebSocket and multiplexes realtime
// Sessions over them, one per connection: an Upgrader plus a per-connection
// read/write pump pair.
type Server struct {
	runner   *runner.Runner
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer builds a realtime Server that drives r's agent tree.
// allowedOrigins, when non-empty, restricts the WebSocket upgrade's Origin
// header; empty allows all origins (local/dev default).
func NewServer(r *runner.Runner, cfg Config, allowedOrigins []string) *Server {
	s := &Server{runner: r, cfg: cfg}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := req.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return s
}

// ServeHTTP upgrades the connection and runs its duplex pump until the
// client disconnects or the session closes. userID/sessionID are taken from
// query parameters, matching the Runner.Run identity tuple.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	if userID == "" || sessionID == "" {
		http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("realtime: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := Connect(ctx, s.runner, userID, sessionID, s.cfg)
	if err != nil {
		slog.Error("realtime: connect failed", "error", err)
		return
	}
	defer sess.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writePump(conn, sess, sessionID)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.readPump(ctx, conn, sess)
	}()
	wg.Wait()
}

// writePump drains sess's ServerEvents and writes one Envelope per event.
func (s *Server) writePump(conn *websocket.Conn, sess Session, sessionID string) {
	for ev, err := range sess.Events() {
		if err != nil {
			_ = conn.WriteJSON(errorEnvelope(sessionID, err))
			continue
		}
		if werr := conn.WriteJSON(toEnvelope(sessionID, ev)); werr != nil {
			return
		}
	}
}

// readPump decodes inbound client frames and dispatches them to sess.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess Session) {
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Kind {
		case "text":
			if err := sess.SendText(ctx, frame.Text); err != nil {
				return
			}
		case "audio":
			if err := sess.SendAudio(ctx, frame.Audio); err != nil {
				return
			}
		case "tool_response":
			if frame.ToolResp != nil {
				if err := sess.SendToolResponse(ctx, *frame.ToolResp); err != nil {
					return
				}
			}
		case "resume":
			events, err := sess.Replay(frame.LastSeq)
			if err != nil {
				_ = conn.WriteJSON(errorEnvelope("", err))
				continue
			}
			for _, ev := range events {
				_ = conn.WriteJSON(toEnvelope("", ev))
			}
		case "close":
			return
		}
	}
}

func toEnvelope(sessionID string, ev *ServerEvent) Envelope {
	var data any = struct{}{}
	switch ev.Kind {
	case KindTextDelta:
		data = map[string]string{"text": ev.TextDelta}
	case KindAudioDelta:
		data = map[string][]byte{"audio": ev.AudioDelta}
	case KindTranscriptDelta:
		data = map[string]string{"text": ev.TranscriptDelta}
	case KindFunctionCallDone:
		data = ev.FunctionCall
	case KindResponseDone:
		data = map[string]any{"usage": ev.Usage}
	case KindError:
		if ev.Err != nil {
			data = map[string]string{"message": ev.Err.Error()}
		}
	}
	return Envelope{
		V:       EnvelopeVersion,
		Seq:     ev.Seq,
		Session: sessionID,
		TS:      time.Now().UTC(),
		Payload: EnvelopePayload{Kind: string(ev.Kind), Data: data},
	}
}

func errorEnvelope(sessionID string, err error) Envelope {
	return Envelope{
		V:       EnvelopeVersion,
		Session: sessionID,
		TS:      time.Now().UTC(),
		Payload: EnvelopePayload{Kind: string(KindError), Data: map[string]string{"message": err.Error()}},
	}
}
