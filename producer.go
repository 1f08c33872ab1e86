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

package ringlog

import (
	"fmt"

	"github.com/cloudwego/ringlog/committer"
	"github.com/cloudwego/ringlog/frame"
	"github.com/cloudwego/ringlog/ring"
	"github.com/cloudwego/ringlog/tlocal"
)

// producerState is the one instance of per-OS-thread state tlocal.Holder
// manages: the thread's input ring and the facade it commits through.
type producerState struct {
	ring   *ring.ThreadInputBuffer
	facade *committer.Facade
	w      *frame.ArgWriter
}

// Producer is the handle a call site obtains from Logger.Get and uses to
// emit records on the calling OS thread. It is not safe for use from any
// goroutine other than the one that obtained it, and must not be retained
// past that goroutine's call to Release.
type Producer struct {
	handle *tlocal.Handle[*producerState]
	state  *producerState
	table  *frame.DispatchTable
}

// Release returns the producer's thread-local resources (the ring and its
// committer) to the Logger. Call sites that obtain a Producer from a
// long-lived goroutine should defer this once, immediately after
// Logger.Get.
func (p *Producer) Release() {
	p.handle.Release()
}

// Emit writes one record for dispatch pointer dp and commits it. encode
// appends the record's arguments to the frame body in order using the
// matching WriteXxx methods on the producer's ArgWriter; it is the caller's responsibility
// (normally generated or hand-written call-site code, kept outside this
// module's concern) to match argument order and type between the
// RegisterHandler side and Emit call sites.
func (p *Producer) Emit(dp frame.DispatchPointer, encode func(w *frame.ArgWriter)) error {
	w := p.state.w
	w.Reset()
	if encode != nil {
		encode(w)
	}
	payload := w.Bytes()

	total := uint64(frame.StandardHeaderSize + len(payload))
	buf := p.state.ring.AllocateInputFrame(total)
	if uint64(len(buf)) < total {
		return fmt.Errorf("ringlog: allocated frame shorter than requested (%d < %d)", len(buf), total)
	}
	frame.WriteHeader(buf, dp, total)
	copy(buf[frame.StandardHeaderSize:], payload)

	return p.state.facade.Commit()
}

// Lookup resolves a handler name to its DispatchPointer, for callers that
// build the pointer once per call site and reuse it across many Emit calls.
func (p *Producer) Lookup(name string) (frame.DispatchPointer, bool) {
	return p.table.Lookup(name)
}
