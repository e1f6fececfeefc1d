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

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Checkpoint is the unit of persisted graph progress: everything needed to
// resume a thread from the node it runs next (NextNode).
type Checkpoint struct {
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	State    map[string]any `json:"state"`
	NextNode string         `json:"next_node"`
	Status   ThreadStatus   `json:"status"`
	// Interrupt carries the pending interrupt payload when Status is
	// ThreadSuspended; nil otherwise.
	Interrupt map[string]any `json:"interrupt,omitempty"`
}

// Store persists and retrieves the latest Checkpoint for a thread. Backends
// only need to keep the most recent checkpoint per thread_id; the executor
// never reads history, only the latest state.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID string) (Checkpoint, bool, error)
	Clear(ctx context.Context, threadID string) error
}

// MemoryStore is an in-process Store backed by a guarded map; the default for
// single-process runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[string]Checkpoint
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[cp.ThreadID] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byKey[threadID]
	return cp, ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, threadID)
	return nil
}

var _ Store = (*MemoryStore)(nil)

// EtcdStore persists checkpoints to an etcd cluster, one key per thread_id,
// for multi-process deployments that need a graph's in-flight state visible
// to whichever process picks up the next request for a thread.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore builds an EtcdStore keying checkpoints under prefix+threadID.
func NewEtcdStore(client *clientv3.Client, prefix string) *EtcdStore {
	return &EtcdStore{client: client, prefix: prefix}
}

func (s *EtcdStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *EtcdStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("graph: marshal checkpoint: %w", err)
	}
	_, err = s.client.Put(ctx, s.key(cp.ThreadID), string(data))
	if err != nil {
		return fmt.Errorf("graph: etcd put checkpoint: %w", err)
	}
	return nil
}

func (s *EtcdStore) Load(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	resp, err := s.client.Get(ctx, s.key(threadID))
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("graph: etcd get checkpoint: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return Checkpoint{}, false, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(resp.Kvs[0].Value, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("graph: unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *EtcdStore) Clear(ctx context.Context, threadID string) error {
	_, err := s.client.Delete(ctx, s.key(threadID))
	if err != nil {
		return fmt.Errorf("graph: etcd delete checkpoint: %w", err)
	}
	return nil
}

var _ Store = (*EtcdStore)(nil)
