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

package bufalloc

import "unsafe"

// Buffer is a handle to a fixed-size, aligned block carved from a Pool's
// arena. It is owned by a single ring for its lifetime; Free returns it to
// the pool's free lists.
type Buffer struct {
	pool  *Pool
	arena *arena
	off   uint64
	order int
	size  uint64

	freed bool
}

// Bytes returns the block's backing memory. The returned slice is valid
// until Free is called; callers must not retain it afterwards.
func (b *Buffer) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Add(b.arena.base, b.off)), int(b.size))
}

// Base returns the aligned starting address of the block.
func (b *Buffer) Base() unsafe.Pointer {
	return unsafe.Add(b.arena.base, b.off)
}

// Size returns the usable size of the block, which may be larger than the
// size requested from Pool.Alloc (rounded up to a power of two).
func (b *Buffer) Size() uint64 {
	return b.size
}

// Free releases the block back to its pool. Free is idempotent; calling it
// more than once is a no-op after the first call.
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.freed = true
	b.pool.free(b)
}
