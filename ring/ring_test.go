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

package ring

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/ringlog/bufalloc"
	"github.com/cloudwego/ringlog/frame"
)

// fakeCommitter mirrors committer.Facade closely enough for ring-only
// tests: it advances pcommitEnd to the ring's current PendingEnd on every
// Commit call.
type fakeCommitter struct {
	r     *ThreadInputBuffer
	calls int32
}

func (c *fakeCommitter) Commit() error {
	atomic.AddInt32(&c.calls, 1)
	if c.r != nil {
		c.r.PublishCommit(c.r.PendingEnd())
	}
	return nil
}

func newTestRing(t *testing.T, size, alignment uint64) (*ThreadInputBuffer, *fakeCommitter) {
	t.Helper()
	pool, err := bufalloc.NewPool(alignment, size, size, size*4)
	require.NoError(t, err)

	c := &fakeCommitter{}
	r, err := New(c, pool, size, alignment)
	require.NoError(t, err)
	c.r = r
	return r, c
}

func TestS1FitsContiguously(t *testing.T) {
	r, _ := newTestRing(t, 256, 16)

	f1 := r.AllocateInputFrame(32)
	assert.Len(t, f1, 32)
	assert.EqualValues(t, 32, r.PendingEnd())

	f2 := r.AllocateInputFrame(48)
	assert.Len(t, f2, 48)
	assert.EqualValues(t, 80, r.PendingEnd())
}

func TestS2ExactFitRefused(t *testing.T) {
	r, _ := newTestRing(t, 64, 16)

	done := make(chan []byte, 1)
	go func() {
		done <- r.AllocateInputFrame(64)
	}()

	// Allocating exactly the ring's full size must never be served: the
	// allocator only accepts n < free, never n == free, to keep
	// pinput_end from ever catching up to pinput_start on an empty ring
	// (that state is indistinguishable from "full").
	select {
	case <-done:
		t.Fatal("allocate of exactly the ring's full size must block (equality is refused)")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestS3WraparoundMarker(t *testing.T) {
	r, _ := newTestRing(t, 128, 16)

	// Drive the ring to head=64, tail=112 as S3 specifies.
	r.AllocateInputFrame(112) // tail -> 112
	r.DiscardInputFrame(64)   // head -> 64

	payload := r.AllocateInputFrame(32)
	assert.Len(t, payload, 32)
	assert.EqualValues(t, 32, r.PendingEnd(), "tail should wrap to 32")

	assert.Equal(t, frame.WraparoundMarker, r.DispatchAt(112), "sentinel must be visible to the consumer at the old tail")

	r.Wraparound()
	assert.EqualValues(t, 0, r.Head(), "consumer must have wrapped the head to 0 after observing the sentinel")
}

func TestS4BackPressure(t *testing.T) {
	r, c := newTestRing(t, 128, 16)

	var ends []uint64
	for i := 0; i < 4; i++ {
		r.AllocateInputFrame(16)
		ends = append(ends, r.PendingEnd())
	}
	require.NoError(t, c.Commit())

	// a 5th 16-byte frame still fits (free space remaining is 128-64=64).
	r.AllocateInputFrame(16)
	assert.EqualValues(t, 80, r.PendingEnd())
	require.NoError(t, c.Commit())

	// keep going until the ring refuses: at tail 112 with head 0, neither the
	// 16 bytes left at the end nor the 0 bytes before the head strictly
	// exceed a 16-byte request, so the next call must block.
	for r.PendingEnd() < 112 {
		r.AllocateInputFrame(16)
		require.NoError(t, c.Commit())
	}

	blocked := make(chan struct{})
	go func() {
		r.AllocateInputFrame(16)
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("producer should block: ring is full")
	case <-time.After(30 * time.Millisecond):
	}

	// one discard moves head to 16, which still leaves exactly 16 bytes
	// before the head (refused by the strict check); a second one makes
	// room for the wrapped frame.
	r.DiscardInputFrame(16)
	r.DiscardInputFrame(16)
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("producer did not wake after DiscardInputFrame")
	}
}

func TestS5SelfDeadlockAvoidance(t *testing.T) {
	r, c := newTestRing(t, 64, 16)

	r.AllocateInputFrame(48) // tail=48, never committed
	assert.EqualValues(t, 0, c.calls)

	done := make(chan struct{})
	go func() {
		r.AllocateInputFrame(32) // forces a self-commit before blocking
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second allocation should still block: nothing has been consumed")
	case <-time.After(30 * time.Millisecond):
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&c.calls), "allocator must call commit() before blocking when pcommit_end == pinput_start")
	assert.EqualValues(t, 48, r.CommitEnd())

	r.DiscardInputFrame(48)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer did not wake after the consumer caught up")
	}
}

func TestAllocationNeverCrossesRingEnd(t *testing.T) {
	r, _ := newTestRing(t, 128, 16)
	base := r.Base()

	f := r.AllocateInputFrame(112)
	off := uint64(uintptr(unsafe.Pointer(&f[0])) - uintptr(base))
	assert.LessOrEqual(t, off+uint64(len(f)), r.Size(), "no torn frames: a frame never crosses pbegin+size")
}

func TestAllocationIsAlignedToFrameAlignment(t *testing.T) {
	r, _ := newTestRing(t, 256, 16)
	base := r.Base()

	for _, size := range []uint64{1, 15, 16, 17, 33} {
		f := r.AllocateInputFrame(size)
		off := uint64(uintptr(unsafe.Pointer(&f[0])) - uintptr(base))
		assert.Zero(t, off%16, "frame offset %d must be a multiple of the frame alignment", off)
	}
}

func TestDiscardInputFrameAdvancesHeadAndSignals(t *testing.T) {
	r, _ := newTestRing(t, 128, 16)
	r.AllocateInputFrame(32)

	newHead := r.DiscardInputFrame(32)
	assert.EqualValues(t, 32, newHead)
	assert.EqualValues(t, 32, r.Head())
}

func TestCloseDrainsBeforeReleasing(t *testing.T) {
	r, c := newTestRing(t, 128, 16)
	r.AllocateInputFrame(32)

	closed := make(chan error, 1)
	go func() { closed <- r.Close() }()

	select {
	case <-closed:
		t.Fatal("Close must block until the frame is drained")
	case <-time.After(30 * time.Millisecond):
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.calls), "Close must commit pending frames")

	r.DiscardInputFrame(32)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return after drain")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, _ := newTestRing(t, 128, 16)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
