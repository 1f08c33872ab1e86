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

// Package committer implements the one collaborator the ring requires: the
// log facade's Commit operation. The ring calls this and nothing else on
// it; this package is that component's concrete, minimal implementation —
// nothing about formatting, dispatch, or sinks belongs here, only the
// publish barrier.
package committer

import "github.com/cloudwego/ringlog/ring"

// Facade implements ring.Committer for exactly one ring. It is constructed
// before the ring (the ring's constructor needs a Committer), then Bind is
// called once the ring exists, closing the two-way reference between the
// facade and the ring it publishes for.
type Facade struct {
	r *ring.ThreadInputBuffer
}

// New returns an unbound Facade. Bind must be called before Commit.
func New() *Facade {
	return &Facade{}
}

// Bind associates the facade with the ring it publishes for. It must be
// called exactly once, immediately after the ring is constructed with this
// facade as its Committer.
func (f *Facade) Bind(r *ring.ThreadInputBuffer) {
	f.r = r
}

// Commit publishes every frame written up to the producer's current tail:
// it advances the ring's commit watermark to PendingEnd(). It is idempotent
// when no new frames have been produced since the last call, and a no-op
// (returns nil) if called before Bind.
func (f *Facade) Commit() error {
	if f.r == nil {
		return nil
	}
	end := f.r.PendingEnd()
	if f.r.CommitEnd() == end {
		return nil
	}
	f.r.PublishCommit(end)
	return nil
}
