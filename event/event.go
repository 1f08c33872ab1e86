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

// Package event implements the ring's wake-up primitive: a binary,
// single-waiter/single-signaler "someone consumed something" event.
package event

// InputConsumed is a binary wake-up event with exactly one waiter (the
// producer blocked in allocate) and exactly one signaler (the consumer that
// just freed space). It is backed by a capacity-1 channel: a send is the
// signal, a receive is the wait, and Go's channel operations already
// establish the happens-before edge signal/wait needs, so no separate
// fencing is needed here.
type InputConsumed struct {
	ch chan struct{}
}

// New returns a ready, unset event.
func New() *InputConsumed {
	return &InputConsumed{ch: make(chan struct{}, 1)}
}

// Signal marks the event set. Repeated signals before a Wait coalesce into
// one wake-up: Signal is idempotent between Waits.
func (e *InputConsumed) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal has been called at least once since the last
// Wait, then clears the event and returns. Spurious wake-ups never occur
// with this implementation, but callers must still recheck their condition
// in a loop, since by the time Wait returns the condition that triggered
// Signal may already have changed again.
func (e *InputConsumed) Wait() {
	<-e.ch
}
