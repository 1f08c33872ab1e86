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

// Package frame defines the frame header layout that the ring and consumer
// agree on: the first machine word of every frame is a DispatchPointer, and
// the rest of the frame's bytes are opaque payload the handler registered
// for that dispatch pointer knows how to read.
package frame

// DispatchPointer identifies, for the consumer, which handler should
// interpret a frame's payload. It is one machine word: an id into a
// handler table rather than a raw code pointer, since Go cannot portably
// store a function pointer in a byte buffer read by another goroutine.
type DispatchPointer uint64

// WraparoundMarker is a reserved DispatchPointer value that is never handed
// out by a DispatchTable. Seeing it as a frame's dispatch pointer tells the
// consumer to skip to the start of the ring instead of interpreting the
// frame.
const WraparoundMarker DispatchPointer = ^DispatchPointer(0)

// HeaderSize is sizeof(DispatchPointer): the minimum number of bytes any
// frame alignment must be able to hold, since every frame's dispatch
// pointer must land entirely within its own aligned slot.
const HeaderSize = 8

// DefaultAlignment is a reasonable production default: one cache line,
// comfortably holding the 8-byte dispatch pointer plus small inline
// payloads without false sharing between adjacent frames.
const DefaultAlignment = 64

// HandlerFunc formats a frame's payload (the bytes following the dispatch
// pointer) by appending the formatted record to dst, returning the
// extended slice. payload must not be retained past the call: it aliases
// the ring's buffer and is only valid for the duration of the call.
type HandlerFunc func(dst []byte, payload []byte) []byte
