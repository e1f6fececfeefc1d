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

// Package realtime implements the bidirectional voice/text session contract:
// a client sends text, audio or tool-response frames and receives a stream
// of tagged ServerEvents in generation order. A new inbound utterance
// interrupts whatever response is in flight.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
	"github.com/go-adk/adk/adk/runner"
)

// AudioEncoding names a supported audio wire encoding.
type AudioEncoding string

const (
	EncodingPCM16    AudioEncoding = "pcm16"
	EncodingG711Ulaw AudioEncoding = "g711_ulaw"
	EncodingG711Alaw AudioEncoding = "g711_alaw"
)

// AudioFormat fully specifies an audio stream's shape.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      AudioEncoding
}

// PCM16At24kHz is the OpenAI realtime API's default output format.
func PCM16At24kHz() AudioFormat {
	return AudioFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM16}
}

// PCM16At16kHz is Gemini's default input format.
func PCM16At16kHz() AudioFormat {
	return AudioFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM16}
}

// G711UlawAt8kHz is the standard telephony format.
func G711UlawAt8kHz() AudioFormat {
	return AudioFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 8, Encoding: EncodingG711Ulaw}
}

// G711AlawAt8kHz is the standard telephony format.
func G711AlawAt8kHz() AudioFormat {
	return AudioFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 8, Encoding: EncodingG711Alaw}
}

// BytesPerSecond returns the format's raw data rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// DurationMS returns how many milliseconds n bytes represent in this format.
func (f AudioFormat) DurationMS(n int) float64 {
	bytesPerMS := float64(f.BytesPerSecond()) / 1000.0
	if bytesPerMS == 0 {
		return 0
	}
	return float64(n) / bytesPerMS
}

// Config configures a realtime Connect call.
type Config struct {
	Instruction       string
	InputAudioFormat  AudioFormat
	OutputAudioFormat AudioFormat
	Voice             string
}

// ServerEventKind tags a ServerEvent's variant.
type ServerEventKind string

const (
	KindTextDelta       ServerEventKind = "text_delta"
	KindAudioDelta       ServerEventKind = "audio_delta"
	KindTranscriptDelta  ServerEventKind = "transcript_delta"
	KindFunctionCallDone ServerEventKind = "function_call_done"
	KindResponseDone     ServerEventKind = "response_done"
	KindError            ServerEventKind = "error"
	KindInterrupted       ServerEventKind = "interrupted"
)

// ServerEvent is the tagged union the session emits via Events/next_event.
type ServerEvent struct {
	Kind ServerEventKind
	Seq  uint64

	TextDelta       string
	AudioDelta      []byte
	TranscriptDelta string
	FunctionCall    *content.FunctionCall
	Usage           *event.UsageMetadata
	Err             error
}

// ErrSessionClosed is returned by Session methods called after Close.
var ErrSessionClosed = errors.New("realtime: session is closed")

// ErrResumeUnavailable is returned when a client asks to resume from a
// last_seq the session can no longer replay.
var ErrResumeUnavailable = errors.New("realtime: resume unavailable")

// Session is a live bidirectional conversation with an agent tree.
type Session interface {
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, chunk []byte) error
	SendToolResponse(ctx context.Context, resp content.FunctionResponse) error
	Close() error

	// Events streams ServerEvents as they are produced. There is exactly
	// one live Events consumer per session.
	Events() iter.Seq2[*ServerEvent, error]

	// Replay returns buffered events with Seq > lastSeq, or
	// ErrResumeUnavailable if lastSeq has already aged out of the buffer.
	Replay(lastSeq uint64) ([]*ServerEvent, error)
}

const historyCapacity = 256

type liveSession struct {
	r   *runner.Runner
	key struct{ userID, sessionID string }
	cfg Config

	mu        sync.Mutex
	seq       uint64
	genCancel context.CancelFunc
	turnDone  chan struct{}
	closed    bool
	history   []*ServerEvent

	out chan *ServerEvent
	wg  sync.WaitGroup
}

// Connect opens a realtime session driving r's agent tree for
// (userID, sessionID). cfg's Instruction/Voice are informational metadata
// for the caller's own agent construction; the session itself only shapes
// audio in/out and multiplexes turns.
func Connect(_ context.Context, r *runner.Runner, userID, sessionID string, cfg Config) (Session, error) {
	if r == nil {
		return nil, fmt.Errorf("realtime: runner is required")
	}
	s := &liveSession{
		r:   r,
		cfg: cfg,
		out: make(chan *ServerEvent, historyCapacity),
	}
	s.key.userID = userID
	s.key.sessionID = sessionID
	return s, nil
}

func (s *liveSession) SendText(ctx context.Context, text string) error {
	return s.startTurn(ctx, content.NewText(content.RoleUser, text))
}

func (s *liveSession) SendAudio(ctx context.Context, chunk []byte) error {
	part := content.InlineDataPart(string(s.cfg.InputAudioFormat.Encoding), chunk)
	return s.startTurn(ctx, content.Content{Role: content.RoleUser, Parts: []content.Part{part}})
}

// SendToolResponse feeds a client-executed tool's result back in as the next
// turn's input, continuing the conversation past a client-side tool call the
// agent tree requested.
func (s *liveSession) SendToolResponse(ctx context.Context, resp content.FunctionResponse) error {
	part := content.FunctionResponsePart(resp.ID, resp.Name, resp.Response)
	return s.startTurn(ctx, content.Content{Role: content.RoleTool, Parts: []content.Part{part}})
}

func (s *liveSession) startTurn(ctx context.Context, c content.Content) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.genCancel != nil {
		select {
		case <-s.turnDone:
			// The previous turn already completed; nothing is in flight, so
			// there is nothing to interrupt.
		default:
			s.genCancel()
			s.emitLocked(&ServerEvent{Kind: KindInterrupted, Seq: s.nextSeqLocked()})
		}
	}
	genCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.genCancel = cancel
	s.turnDone = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer close(done)
		s.runTurn(genCtx, c)
	}()
	return nil
}

func (s *liveSession) runTurn(ctx context.Context, c content.Content) {
	defer s.wg.Done()
	for ev, err := range s.r.Run(ctx, s.key.userID, s.key.sessionID, c, nil) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.emit(&ServerEvent{Kind: KindError, Err: err})
			continue
		}
		// The Runner's stream leads with the persisted user-authored event;
		// the client already has its own utterance, so the realtime
		// translator only turns model/tool-authored events into ServerEvents.
		if ev.Author == "user" {
			continue
		}
		s.translate(ev)
	}
}

func (s *liveSession) translate(ev *event.Event) {
	if ev.Interrupted {
		s.emit(&ServerEvent{Kind: KindInterrupted})
		return
	}
	for _, p := range ev.Content().Parts {
		switch p.Type {
		case content.PartTypeText:
			s.emit(&ServerEvent{Kind: KindTextDelta, TextDelta: p.Text})
		case content.PartTypeInlineData:
			if p.InlineData != nil {
				s.emit(&ServerEvent{Kind: KindAudioDelta, AudioDelta: p.InlineData.Bytes})
			}
		case content.PartTypeFunctionCall:
			if p.FunctionCall != nil {
				fc := *p.FunctionCall
				s.emit(&ServerEvent{Kind: KindFunctionCallDone, FunctionCall: &fc})
			}
		}
	}
	if ev.TurnComplete {
		var usage *event.UsageMetadata
		if ev.LLMResponse != nil {
			usage = ev.LLMResponse.UsageMetadata
		}
		s.emit(&ServerEvent{Kind: KindResponseDone, Usage: usage})
	}
}

func (s *liveSession) emit(ev *ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

func (s *liveSession) emitLocked(ev *ServerEvent) {
	if ev.Seq == 0 {
		ev.Seq = s.nextSeqLocked()
	}
	s.history = append(s.history, ev)
	if len(s.history) > historyCapacity {
		s.history = s.history[len(s.history)-historyCapacity:]
	}
	select {
	case s.out <- ev:
	default:
		// Drop the oldest unread event rather than block the producer
		// goroutine indefinitely: a realtime audio/text feed sheds load
		// under a lagging consumer instead of stalling generation.
		select {
		case <-s.out:
		default:
		}
		s.out <- ev
	}
}

func (s *liveSession) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

func (s *liveSession) Events() iter.Seq2[*ServerEvent, error] {
	return func(yield func(*ServerEvent, error) bool) {
		for ev := range s.out {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *liveSession) Replay(lastSeq uint64) ([]*ServerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		if lastSeq == 0 {
			return nil, nil
		}
		return nil, ErrResumeUnavailable
	}
	oldest := s.history[0].Seq
	if lastSeq < oldest-1 {
		return nil, ErrResumeUnavailable
	}
	var out []*ServerEvent
	for _, ev := range s.history {
		if ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *liveSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.genCancel != nil {
		s.genCancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.out)
	return nil
}

var _ Session = (*liveSession)(nil)
