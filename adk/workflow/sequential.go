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

package workflow

import "github.com/go-adk/adk/adk/agent"

// SequentialConfig configures a Sequential agent.
type SequentialConfig struct {
	Name        string
	Description string
	SubAgents   []agent.Agent
}

// NewSequential builds an agent that runs its sub-agents once, in the order
// listed. It is a Loop with MaxIterations=1: use it for a fixed processing
// pipeline where order matters and no repetition is wanted.
func NewSequential(cfg SequentialConfig) (agent.Agent, error) {
	return NewLoop(LoopConfig{
		Name:          cfg.Name,
		Description:   cfg.Description,
		SubAgents:     cfg.SubAgents,
		MaxIterations: 1,
	})
}
