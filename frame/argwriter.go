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

package frame

import (
	"encoding/binary"
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/ringlog/internal/unsafeconv"
)

const argScratchPad = 256

var argWriterPool = sync.Pool{
	New: func() interface{} {
		return &ArgWriter{pool: make([][]byte, 0, 4)}
	},
}

// ArgWriter is the front-end's scratch space for building a frame's payload
// before the final frame size is known: front-ends append primitive values,
// and once the record is complete the accumulated bytes are copied once
// into the frame allocated from the ring (which must be sized exactly, so
// the payload has to be measured before AllocateInputFrame can be called).
//
// Because a log call site always produces one short-lived payload, a single
// non-chunked growable buffer (rather than XWriteBuffer's list of chunks) is
// enough; scratch growth still goes through bytedance/gopkg's mcache so
// repeated log calls on the same producer thread reuse the same backing
// arrays instead of allocating on every call.
type ArgWriter struct {
	off  int
	buf  []byte
	pool [][]byte
}

// NewArgWriter returns a pooled, empty ArgWriter.
func NewArgWriter() *ArgWriter {
	return argWriterPool.Get().(*ArgWriter)
}

// Release returns w to the pool after freeing its mcache-backed scratch.
// w must not be used after Release.
func (w *ArgWriter) Release() {
	w.off = 0
	w.buf = nil
	for i := range w.pool {
		mcache.Free(w.pool[i])
		w.pool[i] = nil
	}
	w.pool = w.pool[:0]
	argWriterPool.Put(w)
}

// Reset clears the writer for reuse without returning it to the pool,
// keeping its current scratch allocation.
func (w *ArgWriter) Reset() {
	w.off = 0
}

// Len returns the number of payload bytes written so far.
func (w *ArgWriter) Len() int {
	return w.off
}

// Bytes returns the payload written so far. The slice is only valid until
// the next Write* call or Reset/Release.
func (w *ArgWriter) Bytes() []byte {
	return w.buf[:w.off]
}

func (w *ArgWriter) grow(n int) {
	need := w.off + n
	if cap(w.buf) >= need {
		w.buf = w.buf[:need]
		return
	}
	size := need
	if size < argScratchPad {
		size = argScratchPad
	}
	nb := mcache.Malloc(size)
	nb = nb[:cap(nb)]
	copy(nb, w.buf[:w.off])
	w.pool = append(w.pool, nb)
	w.buf = nb[:need]
}

// WriteUint64 appends a little-endian uint64.
func (w *ArgWriter) WriteUint64(v uint64) {
	w.grow(8)
	binary.LittleEndian.PutUint64(w.buf[w.off-8:w.off], v)
}

// WriteInt64 appends a little-endian int64.
func (w *ArgWriter) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteFloat64 appends bits, the IEEE 754 representation of a float64 (as
// returned by math.Float64bits), little-endian.
func (w *ArgWriter) WriteFloat64(bits uint64) {
	w.WriteUint64(bits)
}

// WriteString appends a length-prefixed string using a zero-copy view of s
// while copying it into the writer's own scratch, so the caller's string
// need not outlive the call.
func (w *ArgWriter) WriteString(s string) {
	w.WriteUint64(uint64(len(s)))
	w.grow(len(s))
	copy(w.buf[w.off-len(s):w.off], unsafeconv.StringToBytes(s))
}

// WriteBytes appends a length-prefixed byte slice, copying b.
func (w *ArgWriter) WriteBytes(b []byte) {
	w.WriteUint64(uint64(len(b)))
	w.grow(len(b))
	copy(w.buf[w.off-len(b):w.off], b)
}
