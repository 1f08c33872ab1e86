/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package consumer implements the output-thread side of the system: the
// registry of live producer rings and the single loop that round-robins
// over them, decodes frames and calls their handlers. The producer-facing
// ring and frame packages treat this as an external collaborator they
// never call into directly; this package is the concrete implementation
// that makes the library runnable end to end.
package consumer

import (
	"sync"
	"sync/atomic"

	"github.com/cloudwego/ringlog/ring"
)

// Registry tracks the set of ThreadInputBuffers currently owned by live
// producer threads. Registration and deregistration are rare (thread
// start/stop); iteration happens once per consumer loop tick. Registry
// therefore keeps a readonly snapshot slice swapped atomically: the
// consumer loop's sweep never takes a lock and never observes a torn view
// of the member set, only a fully-added-or-not-yet view for any given
// registration.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	rings []*ring.ThreadInputBuffer
	cur   int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{})
	return r
}

// Add registers r as live. Called once per producer thread, at the point
// its ThreadInputBuffer is constructed.
func (reg *Registry) Add(r *ring.ThreadInputBuffer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	old := reg.snap.Load()
	next := make([]*ring.ThreadInputBuffer, len(old.rings), len(old.rings)+1)
	copy(next, old.rings)
	next = append(next, r)
	reg.snap.Store(&snapshot{rings: next})
}

// Remove deregisters r. Called after the ring has been drained and closed.
func (reg *Registry) Remove(r *ring.ThreadInputBuffer) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	old := reg.snap.Load()
	next := make([]*ring.ThreadInputBuffer, 0, len(old.rings))
	for _, existing := range old.rings {
		if existing != r {
			next = append(next, existing)
		}
	}
	reg.snap.Store(&snapshot{rings: next})
}

// Snapshot returns the current member set. The returned slice must not be
// mutated; it is shared with the registry's internal state until the next
// Add/Remove.
func (reg *Registry) Snapshot() []*ring.ThreadInputBuffer {
	return reg.snap.Load().rings
}

// Len reports the number of currently registered rings.
func (reg *Registry) Len() int {
	return len(reg.snap.Load().rings)
}
