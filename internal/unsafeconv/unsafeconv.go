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

// Package unsafeconv holds the zero-copy string/[]byte conversions used on
// the producer's hot path when serializing string arguments into a frame:
// the log call must not pay for a copy the caller's own string already
// paid for once.
package unsafeconv

import "unsafe"

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

type strHeader struct {
	Data uintptr
	Len  int
}

// BytesToString converts []byte to string without copying. The returned
// string aliases b; the caller must not mutate b afterwards.
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// StringToBytes converts a string to []byte without copying. The returned
// slice aliases s's backing storage and must never be written to.
func StringToBytes(s string) []byte {
	var v []byte
	p0 := (*sliceHeader)(unsafe.Pointer(&v))
	p1 := (*strHeader)(unsafe.Pointer(&s))
	p0.Data = p1.Data
	p0.Len = p1.Len
	p0.Cap = p1.Len
	return v
}
