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

package consumer

import (
	"math/bits"
	"sync"
)

// linebufPool hands out reusable byte slices for the consumer's formatted
// output line, sized in power-of-two classes. It is private to one
// consumer loop rather than a process-wide singleton — a logging library
// embedded in a larger binary should not share a buffer pool keyed by a
// global magic footer with unrelated callers — so put derives the class
// from the slice's capacity instead of relying on a self-describing footer.
type linebufPool struct {
	classes []*sync.Pool
}

const minLinebufSize = 512

func newLinebufPool() *linebufPool {
	p := &linebufPool{}
	// 10 classes: 512B .. 256KB, doubling. A formatted log line larger than
	// 256KB falls back to a one-off allocation in get.
	for i := 0; i < 10; i++ {
		size := minLinebufSize << i
		p.classes = append(p.classes, &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		})
	}
	return p
}

func (p *linebufPool) classFor(size int) int {
	if size <= minLinebufSize {
		return 0
	}
	idx := bits.Len(uint(size-1)) - bits.Len(uint(minLinebufSize-1))
	if idx < 0 {
		idx = 0
	}
	return idx
}

// get returns a buffer with length 0 and capacity at least size.
func (p *linebufPool) get(size int) []byte {
	idx := p.classFor(size)
	if idx >= len(p.classes) {
		return make([]byte, 0, size)
	}
	bp := p.classes[idx].Get().(*[]byte)
	return (*bp)[:0]
}

// put returns buf to the pool it was drawn from, sized by its capacity.
func (p *linebufPool) put(buf []byte) {
	idx := p.classFor(cap(buf))
	if idx >= len(p.classes) {
		return
	}
	if cap(buf) < minLinebufSize<<idx {
		// not an exact class size (e.g. grown by append): file it one class
		// down so get's capacity guarantee still holds.
		idx--
		if idx < 0 {
			return
		}
	}
	b := buf[:cap(buf)]
	p.classes[idx].Put(&b)
}
