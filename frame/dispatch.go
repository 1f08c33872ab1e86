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
	"errors"
	"fmt"
)

// ErrFrozen is returned by RegisterHandler once the table has been frozen.
var ErrFrozen = errors.New("frame: dispatch table is frozen")

// ErrDuplicateName is returned by RegisterHandler for a name already
// registered.
var ErrDuplicateName = errors.New("frame: handler name already registered")

// DispatchTable is the readonly-after-build mapping between handler names
// and the DispatchPointer ids frames carry. Registration happens once at
// startup; after Freeze, Lookup never observes a mutation, matching the
// ring's own requirement that nothing on the producer's hot path takes a
// lock. The name→id index is a GC-friendly readonly snapshot over compacted
// name storage, keyed by an FNV hash of the name.
type DispatchTable struct {
	frozen   bool
	names    []string
	handlers []HandlerFunc

	store     *nameStore
	hashtable []int32 // open-addressed, index into handlers; -1 empty
	mask      uint64
}

// NewDispatchTable returns an empty, unfrozen table.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{}
}

// RegisterHandler assigns name a stable DispatchPointer and associates it
// with fn. It panics if called after Freeze (a programming error: all call
// sites must register during startup, before any producer runs) and
// returns ErrDuplicateName if name was already registered.
func (t *DispatchTable) RegisterHandler(name string, fn HandlerFunc) (DispatchPointer, error) {
	if t.frozen {
		panic(fmt.Errorf("%w: RegisterHandler(%q) called after Freeze", ErrFrozen, name))
	}
	for _, n := range t.names {
		if n == name {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	id := DispatchPointer(len(t.handlers))
	if id == WraparoundMarker {
		return 0, fmt.Errorf("frame: dispatch table exhausted (reached reserved id %d)", uint64(WraparoundMarker))
	}
	t.names = append(t.names, name)
	t.handlers = append(t.handlers, fn)
	return id, nil
}

// Freeze builds the readonly name index and makes the table immutable.
// It must be called exactly once, after all handlers are registered and
// before any producer or the consumer starts using the table.
func (t *DispatchTable) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true

	n := len(t.names)
	store, offs := newNameStore(t.names)
	t.store = store

	size := uint64(1)
	for size < uint64(n)*2 {
		size <<= 1
	}
	if size == 0 {
		size = 1
	}
	t.mask = size - 1
	ht := make([]int32, size)
	for i := range ht {
		ht[i] = -1
	}
	for i, off := range offs {
		h := fnvHashString(t.store.get(off))
		slot := h & t.mask
		for ht[slot] != -1 {
			slot = (slot + 1) & t.mask
		}
		ht[slot] = int32(i)
	}
	t.hashtable = ht
}

// Lookup returns the DispatchPointer registered for name. Front-ends should
// call this once per call site and cache the result; it is safe to call
// concurrently with the consumer's Handler lookups, but it is not a
// replacement for caching on the hot path.
func (t *DispatchTable) Lookup(name string) (DispatchPointer, bool) {
	if !t.frozen || len(t.hashtable) == 0 {
		return 0, false
	}
	h := fnvHashString(name)
	slot := h & t.mask
	for {
		idx := t.hashtable[slot]
		if idx == -1 {
			return 0, false
		}
		if t.names[idx] == name {
			return DispatchPointer(idx), true
		}
		slot = (slot + 1) & t.mask
	}
}

// Handler returns the handler registered for dp, or nil if dp is out of
// range (which should never happen for a dp obtained from this table's own
// RegisterHandler/Lookup).
func (t *DispatchTable) Handler(dp DispatchPointer) HandlerFunc {
	if int(dp) < 0 || int(dp) >= len(t.handlers) {
		return nil
	}
	return t.handlers[dp]
}

// Len returns the number of registered handlers.
func (t *DispatchTable) Len() int {
	return len(t.handlers)
}
