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

// Package bufalloc is the aligned buffer allocator backing per-thread input
// rings. Rather than asking the OS for one allocation per ring (one per
// producer thread, which can run into the thousands in a long-lived
// process), it carves fixed-size, power-of-two-aligned blocks out of a small
// number of large backing arenas using a buddy allocation strategy, the way
// unsafex/malloc's BuddyAllocator carves general-purpose blocks, adapted
// here to always hand out blocks aligned to a single configured alignment
// and to track ownership externally (via *Buffer) instead of an in-band
// header, since a log ring's first bytes are meaningful frame data, not
// allocator bookkeeping.
package bufalloc

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/cloudwego/ringlog/align"
)

// ErrAllocation is returned when a requested block cannot be satisfied.
var ErrAllocation = errors.New("bufalloc: allocation failed")

// Pool carves aligned, fixed-size blocks from a growable set of arenas.
// All blocks handed out by a Pool share the same alignment.
type Pool struct {
	mu sync.Mutex

	alignment    uint64
	minBlockSize uint64
	maxBlockSize uint64
	arenaSize    uint64 // multiple of maxBlockSize

	minShift int
	maxOrder int

	arenas []*arena
}

type arena struct {
	raw       []byte
	base      unsafe.Pointer
	size      uint64
	freeLists [][]uint64 // per-order free block offsets, relative to base

	needsCoalesce bool
}

// NewPool creates a Pool that hands out blocks aligned to alignment, with
// sizes between minBlockSize and maxBlockSize (both must be powers of two,
// minBlockSize >= alignment). Each backing arena holds arenaSize/maxBlockSize
// maxBlockSize-sized root blocks; arenas are added lazily as Alloc needs
// more space.
func NewPool(alignment, minBlockSize, maxBlockSize, arenaSize uint64) (*Pool, error) {
	if !align.IsPowerOfTwo(alignment) {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrAllocation, alignment)
	}
	if !align.IsPowerOfTwo(minBlockSize) || minBlockSize < alignment {
		return nil, fmt.Errorf("%w: minBlockSize %d must be a power of two >= alignment %d", ErrAllocation, minBlockSize, alignment)
	}
	if !align.IsPowerOfTwo(maxBlockSize) || maxBlockSize < minBlockSize {
		return nil, fmt.Errorf("%w: maxBlockSize %d must be a power of two >= minBlockSize %d", ErrAllocation, maxBlockSize, minBlockSize)
	}
	if arenaSize < maxBlockSize || arenaSize%maxBlockSize != 0 {
		return nil, fmt.Errorf("%w: arenaSize %d must be a multiple of maxBlockSize %d", ErrAllocation, arenaSize, maxBlockSize)
	}
	return &Pool{
		alignment:    alignment,
		minBlockSize: minBlockSize,
		maxBlockSize: maxBlockSize,
		arenaSize:    arenaSize,
		minShift:     align.Log2(minBlockSize),
		maxOrder:     align.Log2(maxBlockSize) - align.Log2(minBlockSize),
	}, nil
}

// Alloc returns a Buffer of at least size bytes, aligned to the pool's
// alignment. It never blocks; if no arena has room, a new arena is grown.
// A size of 0 or above maxBlockSize fails with ErrAllocation. Growing an
// arena has no error path of its own: running out of memory while growing
// is a fatal Go runtime error, not an ErrAllocation.
func (p *Pool) Alloc(size uint64) (buf *Buffer, err error) {
	if size == 0 || size > p.maxBlockSize {
		return nil, fmt.Errorf("%w: size %d exceeds maxBlockSize %d", ErrAllocation, size, p.maxBlockSize)
	}
	order := p.orderForSize(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.arenas {
		if off, ok := a.take(order, p.maxOrder, p.minBlockSize); ok {
			return p.newBuffer(a, off, order), nil
		}
	}

	a, err := p.growLocked()
	if err != nil {
		return nil, err
	}
	off, ok := a.take(order, p.maxOrder, p.minBlockSize)
	if !ok {
		// a fresh arena always has at least one maxOrder block; this would
		// mean order > maxOrder, already rejected above.
		return nil, fmt.Errorf("%w: new arena could not satisfy order %d", ErrAllocation, order)
	}
	return p.newBuffer(a, off, order), nil
}

func (p *Pool) newBuffer(a *arena, off uint64, order int) *Buffer {
	return &Buffer{
		pool:  p,
		arena: a,
		off:   off,
		order: order,
		size:  p.minBlockSize << uint(order),
	}
}

func (p *Pool) orderForSize(size uint64) int {
	rounded := align.RoundUp(size, p.minBlockSize)
	return align.Log2(align.NextPowerOfTwo(rounded)) - p.minShift
}

func (p *Pool) growLocked() (*arena, error) {
	// Go has no native aligned allocation, so over-allocate by one
	// alignment unit and align the usable region by arithmetic. The raw
	// slice itself is the thing to keep alive (and is, via arena.raw) so
	// the GC never reclaims it out from under the aligned sub-slice.
	raw := make([]byte, p.arenaSize+p.alignment-1)
	rawBase := uintptr(unsafe.Pointer(&raw[0]))
	alignedBase := (rawBase + uintptr(p.alignment) - 1) &^ (uintptr(p.alignment) - 1)

	a := &arena{
		raw:       raw,
		base:      unsafe.Pointer(alignedBase),
		size:      p.arenaSize,
		freeLists: make([][]uint64, p.maxOrder+1),
	}
	numRoots := p.arenaSize / p.maxBlockSize
	a.freeLists[p.maxOrder] = make([]uint64, 0, numRoots)
	for i := uint64(0); i < numRoots; i++ {
		a.freeLists[p.maxOrder] = append(a.freeLists[p.maxOrder], i*p.maxBlockSize)
	}
	p.arenas = append(p.arenas, a)
	return a, nil
}

func (p *Pool) free(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.arena.put(b.off, b.order, p.maxOrder, p.minBlockSize)
}

// take pops a free block of the given order from a, splitting a larger block
// if necessary. Mirrors unsafex/malloc's BuddyAllocator.allocSlow split loop.
func (a *arena) take(order, maxOrder int, minBlockSize uint64) (uint64, bool) {
	if len(a.freeLists[order]) > 0 {
		fl := a.freeLists[order]
		n := len(fl) - 1
		off := fl[n]
		a.freeLists[order] = fl[:n]
		return off, true
	}

	found := -1
	for o := order + 1; o <= maxOrder; o++ {
		if len(a.freeLists[o]) > 0 {
			found = o
			break
		}
	}
	if found == -1 {
		if !a.needsCoalesce {
			return 0, false
		}
		found = a.coalesceUntil(order, maxOrder, minBlockSize)
		if found == -1 {
			a.needsCoalesce = false
			return 0, false
		}
	}

	fl := a.freeLists[found]
	n := len(fl) - 1
	off := fl[n]
	a.freeLists[found] = fl[:n]

	for found > order {
		found--
		right := off + (minBlockSize << uint(found))
		a.freeLists[found] = append(a.freeLists[found], right)
	}
	return off, true
}

func (a *arena) put(off uint64, order, maxOrder int, minBlockSize uint64) {
	a.freeLists[order] = append(a.freeLists[order], off)
	if order < maxOrder {
		a.needsCoalesce = true
	}
}

// coalesceUntil merges adjacent buddy pairs bottom-up until a block of at
// least targetOrder is available, mirroring BuddyAllocator.CoalesceUntil.
func (a *arena) coalesceUntil(targetOrder, maxOrder int, minBlockSize uint64) int {
	for order := 0; order < targetOrder; order++ {
		fl := a.freeLists[order]
		n := len(fl)
		if n < 2 {
			continue
		}
		for i := 1; i < n; i++ {
			for j := i; j > 0 && fl[j] < fl[j-1]; j-- {
				fl[j], fl[j-1] = fl[j-1], fl[j]
			}
		}
		blockSize := minBlockSize << uint(order)
		w := 0
		for i := 0; i < n; {
			off := fl[i]
			if i+1 < n && fl[i+1] == off^blockSize {
				a.freeLists[order+1] = append(a.freeLists[order+1], off&^blockSize)
				i += 2
			} else {
				fl[w] = off
				w++
				i++
			}
		}
		a.freeLists[order] = fl[:w]
	}
	for o := targetOrder; o <= maxOrder; o++ {
		if len(a.freeLists[o]) > 0 {
			return o
		}
	}
	return -1
}
