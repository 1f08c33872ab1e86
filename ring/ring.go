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

// Package ring implements ThreadInputBuffer, the per-producer-thread input
// ring: variable-size aligned frame allocation, wrap-around handling via an
// in-band sentinel, and back-pressure blocking coordinated with the
// consumer through a wake-up event. Exactly one producer and one consumer
// touch a given ring; it is not safe for multiple producers.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cloudwego/ringlog/align"
	"github.com/cloudwego/ringlog/bufalloc"
	"github.com/cloudwego/ringlog/event"
	"github.com/cloudwego/ringlog/frame"
)

// Committer is the one operation the ring requires of the log facade: flush
// any frames the producer has written but not yet published, so the
// consumer can observe them. The ring calls Commit and nothing else on this
// interface.
type Committer interface {
	// Commit publishes all frames written up to the producer's current tail
	// so the consumer may observe them in program order, and must be
	// idempotent when no new frames have been produced since the last call.
	Commit() error
}

// ThreadInputBuffer is the heart of the library: a single-producer/
// single-consumer ring of aligned frames.
type ThreadInputBuffer struct {
	committer Committer
	buf       *bufalloc.Buffer

	base           unsafe.Pointer
	size           uint64
	frameAlignment uint64
	alignMask      uint64

	// pinputStart is the head: the earliest byte not yet consumed. Written
	// only by the consumer (Discard/Wraparound) and by Close on teardown;
	// read by both sides. Go's atomic package offers no weaker-than-
	// sequentially-consistent ordering, so these loads/stores are stronger
	// than strictly required — never incorrect, just not as cheap as a
	// relaxed atomic would be. See DESIGN.md.
	pinputStart atomic.Uint64

	// pinputEnd is the tail: one past the last byte allocated. Private to
	// the producer; the consumer never reads it directly, only through
	// pcommitEnd (see Committer).
	pinputEnd uint64

	// pcommitEnd is the committed watermark, written by the Committer and
	// read by the producer (diagnostic, see waitInputConsumed) and the
	// consumer (the boundary it may read up to).
	pcommitEnd atomic.Uint64

	consumed *event.InputConsumed

	closed bool
}

// New constructs a ring backed by a block from pool, sized size bytes and
// using frameAlignment-aligned frames. frameAlignment must be a power of two
// at least frame.HeaderSize; size must be a multiple of frameAlignment.
// pool must have been created with the same alignment.
func New(committer Committer, pool *bufalloc.Pool, size, frameAlignment uint64) (*ThreadInputBuffer, error) {
	if !align.IsPowerOfTwo(frameAlignment) || frameAlignment < frame.HeaderSize {
		return nil, fmt.Errorf("%w: frameAlignment %d must be a power of two >= %d", bufalloc.ErrAllocation, frameAlignment, frame.HeaderSize)
	}
	if !align.IsAligned(size, frameAlignment) {
		return nil, fmt.Errorf("%w: size %d must be a multiple of frameAlignment %d", bufalloc.ErrAllocation, size, frameAlignment)
	}
	buf, err := pool.Alloc(size)
	if err != nil {
		return nil, err
	}
	r := &ThreadInputBuffer{
		committer:      committer,
		buf:            buf,
		base:           buf.Base(),
		size:           size,
		frameAlignment: frameAlignment,
		alignMask:      align.Mask(frameAlignment),
		consumed:       event.New(),
	}
	return r, nil
}

// AllocateInputFrame returns a frame of at least requestedSize bytes,
// rounded up to a multiple of the ring's frame alignment. It never fails:
// if there is not enough room, it blocks until the consumer frees space.
// The returned slice is owned by the caller until it is written and the
// facade's Commit is called; it must not be retained past that point.
func (r *ThreadInputBuffer) AllocateInputFrame(requestedSize uint64) []byte {
	n := align.RoundUp(requestedSize, r.frameAlignment)
	for {
		end := r.pinputEnd
		start := r.pinputStart.Load()

		if end < start {
			// contiguous free region (tail has wrapped, head hasn't caught up)
			free := start - end
			if n < free {
				off := end
				r.pinputEnd = r.advance(end, n)
				return r.sliceAt(off, n)
			}
		} else {
			// tail hasn't wrapped: free space is split between the tail and head
			free1 := r.size - end
			free2 := start
			if n < free1 {
				off := end
				r.pinputEnd = r.advance(end, n)
				return r.sliceAt(off, n)
			}
			if n < free2 {
				r.writeDispatchAt(end, frame.WraparoundMarker)
				r.pinputEnd = r.advance(0, n)
				return r.sliceAt(0, n)
			}
		}

		r.waitInputConsumed()
	}
}

// advance returns p+d, wrapping to 0 if the result lands exactly on the
// ring's end. The caller guarantees p+d never exceeds r.size.
func (r *ThreadInputBuffer) advance(p, d uint64) uint64 {
	res := p + d
	if res > r.size {
		panic("ring: frame pointer advanced past end of buffer")
	}
	if res == r.size {
		return 0
	}
	return res
}

// waitInputConsumed is called when a frame cannot be allocated. If the
// consumer has already caught up to everything this producer has published
// (pcommitEnd == pinputStart) yet there is still no room, every byte of
// free space being withheld is the producer's own uncommitted data — so it
// must commit before waiting, or it would deadlock waiting on itself.
func (r *ThreadInputBuffer) waitInputConsumed() {
	if r.pcommitEnd.Load() == r.pinputStart.Load() {
		r.committer.Commit()
	}
	r.consumed.Wait()
}

// DiscardInputFrame is called by the consumer once it is done with a frame
// of the given (unrounded) size: it advances the head past the frame and
// wakes any producer blocked waiting for space.
func (r *ThreadInputBuffer) DiscardInputFrame(size uint64) uint64 {
	n := align.RoundUp(size, r.frameAlignment)
	newStart := r.advance(r.pinputStart.Load(), n)
	r.pinputStart.Store(newStart)
	r.consumed.Signal()
	return newStart
}

// Wraparound is called by the consumer after reading frame.WraparoundMarker
// at the current head: it moves the head back to the start of the ring.
func (r *ThreadInputBuffer) Wraparound() {
	r.pinputStart.Store(0)
}

// PendingEnd returns the producer's current tail offset: everything written
// up to this offset is a candidate for the next Commit. Only the owning
// producer (or the facade acting on its behalf) should call this.
func (r *ThreadInputBuffer) PendingEnd() uint64 {
	return r.pinputEnd
}

// CommitEnd returns the most recently published commit watermark: the
// consumer may read frames up to this offset.
func (r *ThreadInputBuffer) CommitEnd() uint64 {
	return r.pcommitEnd.Load()
}

// PublishCommit advances the commit watermark to end. It is called by the
// Committer implementation, never directly by producer code.
func (r *ThreadInputBuffer) PublishCommit(end uint64) {
	r.pcommitEnd.Store(end)
}

// Head returns the current consumer head offset.
func (r *ThreadInputBuffer) Head() uint64 {
	return r.pinputStart.Load()
}

// Base returns the ring's base address, for computing the offsets of slices
// returned by AllocateInputFrame and BytesAt.
func (r *ThreadInputBuffer) Base() unsafe.Pointer {
	return r.base
}

// Size returns the ring's total capacity in bytes.
func (r *ThreadInputBuffer) Size() uint64 {
	return r.size
}

// FrameAlignment returns the ring's configured frame alignment.
func (r *ThreadInputBuffer) FrameAlignment() uint64 {
	return r.frameAlignment
}

// BytesAt returns a read-only view of n bytes starting at offset. It is
// exposed for the consumer's frame decoder, which needs to read a frame's
// header and payload bytes without the core knowing anything about their
// layout beyond the leading dispatch pointer.
func (r *ThreadInputBuffer) BytesAt(offset, n uint64) []byte {
	return r.sliceAt(offset, n)
}

// DispatchAt reads the DispatchPointer word at the given byte offset. It is
// exposed for the consumer's frame decoder; producers should write their
// dispatch pointer through the slice returned by AllocateInputFrame instead.
func (r *ThreadInputBuffer) DispatchAt(offset uint64) frame.DispatchPointer {
	return r.readDispatchAt(offset)
}

// Close flushes any frames the owning thread wrote, then blocks until the
// consumer has drained everything this thread produced, and finally
// releases the backing buffer. No data is lost: every frame allocated
// before Close was called is guaranteed to have been consumed (or at least
// reclaimed via DiscardInputFrame) before Close returns.
func (r *ThreadInputBuffer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.committer.Commit(); err != nil {
		return err
	}
	for r.pinputStart.Load() != r.pinputEnd {
		r.consumed.Wait()
	}
	r.buf.Free()
	return nil
}

func (r *ThreadInputBuffer) sliceAt(offset, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(r.base, offset)), int(n))
}

func (r *ThreadInputBuffer) writeDispatchAt(offset uint64, v frame.DispatchPointer) {
	binary.LittleEndian.PutUint64(r.sliceAt(offset, 8), uint64(v))
}

func (r *ThreadInputBuffer) readDispatchAt(offset uint64) frame.DispatchPointer {
	return frame.DispatchPointer(binary.LittleEndian.Uint64(r.sliceAt(offset, 8)))
}
