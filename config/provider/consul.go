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

package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider reads a single KV key and watches it via Consul's blocking
// query protocol (long-poll on WaitIndex).
type ConsulProvider struct {
	client *api.Client
	key    string

	lastIndex uint64
}

// NewConsulProvider dials Consul at the first endpoint (default
// localhost:8500 when none given) and reads config from key.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("config: consul key is required")
	}
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: key}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	kv := p.client.KV()
	pair, _, err := kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("config: consul get %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("config: consul key %s not found", p.key)
	}
	p.lastIndex = pair.ModifyIndex
	return pair.Value, nil
}

// Watch long-polls Consul's blocking query until the key's ModifyIndex
// advances past the value seen by the last Load, signalling once per
// observed change.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		kv := p.client.KV()
		index := p.lastIndex
		for {
			opts := (&api.QueryOptions{WaitIndex: index, WaitTime: 0}).WithContext(ctx)
			pair, meta, err := kv.Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if meta.LastIndex > index {
				index = meta.LastIndex
				if pair != nil {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	return ch, nil
}

func (p *ConsulProvider) Close() error { return nil }

var _ Provider = (*ConsulProvider)(nil)
