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

// Package tlocal implements Holder[T]: one instance of T per OS thread,
// constructed lazily on first use and released on explicit teardown.
//
// A platform thread-local destructor callback would normally destroy a
// thread's instance when the thread exits. Go gives library code no
// equivalent: a goroutine that exits does not invoke any registered code on
// a library's behalf, and the runtime does not surface OS thread exit to
// user code even for a goroutine pinned with runtime.LockOSThread. Holder
// therefore requires an explicit Release from the owning goroutine (callers
// of Logger.Get in this module, such as cmd/ringlogdemo, defer the
// Producer's Release right after obtaining it) and additionally attaches a
// runtime.SetFinalizer to the handle returned by Get as a non-deterministic
// backstop for callers that forget — never relied upon for the
// drain-on-close guarantee, only for not leaking memory indefinitely.
package tlocal

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// SystemError wraps a failure from the OS's thread-identification APIs,
// as opposed to a resource-exhaustion failure from the builder itself.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("tlocal: %s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

// ErrAllocation is returned when a thread's first Get call fails to build
// its instance via the Holder's builder.
var ErrAllocation = errors.New("tlocal: instance construction failed")

// Holder owns at most one T per OS thread. Build is called at most once per
// thread, the first time that thread calls Get; its argument tuple is
// whatever the closure captured when the Holder was constructed — a
// closure stands in for a constructor's captured argument tuple here.
type Holder[T any] struct {
	build func() (T, error)
	teardown func(T)

	mu   sync.Mutex
	live map[threadKey]*entry[T]
}

type entry[T any] struct {
	val T
}

// New returns a Holder that lazily builds one T per OS thread with build,
// and runs teardown on that T when the thread's entry is released (either
// explicitly via Release or, as a backstop, via finalizer).
func New[T any](build func() (T, error), teardown func(T)) *Holder[T] {
	return &Holder[T]{
		build:    build,
		teardown: teardown,
		live:     make(map[threadKey]*entry[T]),
	}
}

// Handle is what Get returns: a pinned reference to the calling thread's
// instance plus the means to release it. Handle is not safe to share across
// goroutines — it is only valid on the OS thread that obtained it.
type Handle[T any] struct {
	holder *Holder[T]
	key    threadKey
	val    T
}

// Value returns the calling thread's instance.
func (h *Handle[T]) Value() T {
	return h.val
}

// Release runs T's teardown and removes this thread's entry from the
// holder. It is idempotent. Producers must call Release before their
// goroutine returns (Go has no portable equivalent of a thread-exit
// destructor a library can hook into).
func (h *Handle[T]) Release() {
	h.holder.release(h.key)
	runtime.SetFinalizer(h, nil)
}

// Get returns the calling OS thread's instance, constructing it with the
// Holder's builder on first call from that thread. Between the first call
// on a thread and that thread's Release, Get called again on the same
// thread observes the same instance (identity guaranteed by threadKey, see
// tlocal_linux.go / tlocal_other.go).
//
// Get pins the calling goroutine to its current OS thread for the lifetime
// of the returned Handle (via runtime.LockOSThread): without pinning, the
// Go scheduler is free to move the goroutine to a different OS thread
// between calls, which would silently violate one-instance-per-OS-thread
// identity.
func (h *Holder[T]) Get() (*Handle[T], error) {
	runtime.LockOSThread()

	key, err := currentThreadKey()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, &SystemError{Op: "currentThreadKey", Err: err}
	}

	h.mu.Lock()
	e, ok := h.live[key]
	if ok {
		h.mu.Unlock()
		return &Handle[T]{holder: h, key: key, val: e.val}, nil
	}
	h.mu.Unlock()

	val, err := h.build()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	h.mu.Lock()
	if existing, raced := h.live[key]; raced {
		// Another Get on the same thread won the race (re-entrant call from
		// within build, or a bug upstream); keep the first winner, drop ours.
		h.mu.Unlock()
		h.teardown(val)
		return &Handle[T]{holder: h, key: key, val: existing.val}, nil
	}
	h.live[key] = &entry[T]{val: val}
	h.mu.Unlock()

	handle := &Handle[T]{holder: h, key: key, val: val}
	runtime.SetFinalizer(handle, func(h *Handle[T]) {
		h.Release()
	})
	return handle, nil
}

func (h *Holder[T]) release(key threadKey) {
	h.mu.Lock()
	e, ok := h.live[key]
	if !ok {
		h.mu.Unlock()
		runtime.UnlockOSThread()
		return
	}
	delete(h.live, key)
	h.mu.Unlock()

	h.teardown(e.val)
	runtime.UnlockOSThread()
}

// Close tears down every thread's instance still registered and releases
// the holder's own bookkeeping. It is intended for process/test shutdown
// when some producer threads may never call Release themselves.
func (h *Holder[T]) Close() {
	h.mu.Lock()
	live := h.live
	h.live = make(map[threadKey]*entry[T])
	h.mu.Unlock()

	for _, e := range live {
		h.teardown(e.val)
	}
}

// Len reports the number of threads currently holding an instance. Intended
// for tests and diagnostics only.
func (h *Holder[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

