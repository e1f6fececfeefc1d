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

// Package session manages per-conversation state and the append-only event
// log that backs it. Sessions are identified by
// (app_name, user_id, session_id) and owned by a process-wide Service;
// implementations must preserve linearizable per-session append order and
// make every event durable before it is handed back to the caller.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-adk/adk/adk/event"
)

// Sentinel errors returned by Service implementations, checked with errors.Is.
var (
	// ErrNotFound is returned by Get/AppendEvent when the session does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrConcurrentAppend is a sentinel for backends that detect two callers
	// racing to append to the same session; neither MemoryService nor
	// SQLService returns it, as both serialize appends per session.
	ErrConcurrentAppend = errors.New("session: concurrent append")

	// ErrAlreadyExists is returned by Create when session_id collides.
	ErrAlreadyExists = errors.New("session: already exists")
)

// Session is a conversation between a user and one or more agents: an
// identity, a last-write-wins state map, and an ordered event log.
type Session struct {
	AppName        string
	UserID         string
	SessionID      string
	CreatedAt      time.Time
	LastUpdateTime time.Time

	state  map[string]any
	events []*event.Event
}

// State returns a snapshot of the session's current state map. Callers must
// not mutate the returned map; go through Service.ApplyStateDelta instead.
func (s *Session) State() map[string]any {
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// Events returns the session's event log in append order.
func (s *Session) Events() []*event.Event {
	return s.events
}

// Key identifies a session by its three-part natural key.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
}

// Service is the contract every session backend (in-memory, SQL-backed)
// must satisfy. Append must be linearizable per session: once AppendEvent
// returns, the event is durable and its EventID is final.
type Service interface {
	// Create makes a new session. If sessionID is empty a fresh one is
	// generated. initialState seeds the state map.
	Create(ctx context.Context, key Key, initialState map[string]any) (*Session, error)

	// Get retrieves an existing session, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Session, error)

	// AppendEvent assigns the next dense EventID and durably appends ev to
	// the session's log, then folds ev.Actions.StateDelta into state.
	// Partial events never mutate state.
	AppendEvent(ctx context.Context, key Key, ev *event.Event) error

	// ListEvents returns events for the session. With a non-empty
	// sinceInvocation it returns the events from the first event of that
	// invocation onward (inclusive), or none if no event carries that
	// invocation ID; an empty string means all.
	ListEvents(ctx context.Context, key Key, sinceInvocation string) ([]*event.Event, error)

	// ApplyStateDelta atomically merges delta into the session's state,
	// independent of any event (used for out-of-band corrections/seeding).
	ApplyStateDelta(ctx context.Context, key Key, delta map[string]any) error

	// List returns sessions for a user (or, with an empty UserID, every
	// session under AppName — used by checkpoint recovery scans).
	List(ctx context.Context, appName, userID string) ([]*Session, error)

	// Delete removes a session and its event log.
	Delete(ctx context.Context, key Key) error
}
