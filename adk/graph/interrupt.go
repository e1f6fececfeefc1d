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

import "fmt"

// ThreadStatus is the lifecycle state of a single graph thread.
type ThreadStatus string

const (
	ThreadIdle      ThreadStatus = "idle"
	ThreadRunning   ThreadStatus = "running"
	ThreadSuspended ThreadStatus = "suspended"
	ThreadCompleted ThreadStatus = "completed"
	ThreadFailed    ThreadStatus = "failed"
)

// InterruptError is returned by a FuncFn to suspend the graph at the current
// node. Data is opaque payload surfaced to the caller as the "interrupt"
// StateDelta entry of the Interrupted event the graph emits, so a human or
// calling system can decide how to Resume.
type InterruptError struct {
	Data map[string]any
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph: interrupted with data %v", e.Data)
}

// InterruptEvent describes a graph suspension. The executor does not emit it;
// it emits an event with Interrupted set and the data under StateDelta["interrupt"].
type InterruptEvent struct {
	ThreadID string
	Node     string
	Step     int
	Data     map[string]any
}

// ErrThreadNotSuspended is returned by Resume when the named thread has no
// pending interrupt to resume from.
var ErrThreadNotSuspended = fmt.Errorf("graph: thread is not suspended")

// ErrStepLimitExceeded is returned when a walk exceeds its configured
// step_limit without reaching END.
var ErrStepLimitExceeded = fmt.Errorf("graph: step limit exceeded")
