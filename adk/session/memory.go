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

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-adk/adk/adk/event"
)

// MemoryService is the default, process-local Service implementation. Each
// session has its own mutex so that unrelated sessions never contend;
// within a session, append is strictly serialized.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu  sync.Mutex
	sdk Session
}

// NewMemoryService constructs an empty in-memory session store.
func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: make(map[string]*sessionEntry)}
}

func sessionKey(k Key) string { return k.AppName + "/" + k.UserID + "/" + k.SessionID }

func (m *MemoryService) Create(_ context.Context, key Key, initialState map[string]any) (*Session, error) {
	if key.SessionID == "" {
		key.SessionID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sk := sessionKey(key)
	if _, exists := m.sessions[sk]; exists {
		return nil, ErrAlreadyExists
	}

	state := make(map[string]any, len(initialState))
	for k, v := range initialState {
		state[k] = v
	}

	now := time.Now()
	entry := &sessionEntry{sdk: Session{
		AppName:        key.AppName,
		UserID:         key.UserID,
		SessionID:      key.SessionID,
		CreatedAt:      now,
		LastUpdateTime: now,
		state:          state,
	}}
	m.sessions[sk] = entry

	out := entry.sdk
	return &out, nil
}

func (m *MemoryService) lookup(key Key) (*sessionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[sessionKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryService) Get(_ context.Context, key Key) (*Session, error) {
	entry, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := entry.sdk
	out.state = copyState(entry.sdk.state)
	out.events = append([]*event.Event(nil), entry.sdk.events...)
	return &out, nil
}

func copyState(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AppendEvent assigns the next dense EventID under the session's lock,
// appends, and — unless the event is partial — folds its state delta.
// This ordering (assign-then-fold-then-return) is what makes append
// linearizable and keeps partial events from ever mutating state.
func (m *MemoryService) AppendEvent(_ context.Context, key Key, ev *event.Event) error {
	entry, err := m.lookup(key)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	ev.EventID = uint64(len(entry.sdk.events)) + 1
	ev.SessionID = key.SessionID
	entry.sdk.events = append(entry.sdk.events, ev)
	entry.sdk.LastUpdateTime = time.Now()

	if !ev.Partial && len(ev.Actions.StateDelta) > 0 {
		if entry.sdk.state == nil {
			entry.sdk.state = make(map[string]any)
		}
		for k, v := range ev.Actions.StateDelta {
			entry.sdk.state[k] = v
		}
	}
	return nil
}

func (m *MemoryService) ListEvents(_ context.Context, key Key, sinceInvocation string) ([]*event.Event, error) {
	entry, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if sinceInvocation == "" {
		return append([]*event.Event(nil), entry.sdk.events...), nil
	}

	var cutoff = -1
	for i, e := range entry.sdk.events {
		if e.InvocationID == sinceInvocation {
			cutoff = i
			break
		}
	}
	if cutoff < 0 {
		return nil, nil
	}
	return append([]*event.Event(nil), entry.sdk.events[cutoff:]...), nil
}

func (m *MemoryService) ApplyStateDelta(_ context.Context, key Key, delta map[string]any) error {
	entry, err := m.lookup(key)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.sdk.state == nil {
		entry.sdk.state = make(map[string]any)
	}
	for k, v := range delta {
		entry.sdk.state[k] = v
	}
	entry.sdk.LastUpdateTime = time.Now()
	return nil
}

func (m *MemoryService) List(_ context.Context, appName, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, entry := range m.sessions {
		entry.mu.Lock()
		match := entry.sdk.AppName == appName && (userID == "" || entry.sdk.UserID == userID)
		if match {
			s := entry.sdk
			s.state = copyState(entry.sdk.state)
			out = append(out, &s)
		}
		entry.mu.Unlock()
	}
	return out, nil
}

func (m *MemoryService) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := sessionKey(key)
	if _, ok := m.sessions[sk]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sk)
	return nil
}

var _ Service = (*MemoryService)(nil)
