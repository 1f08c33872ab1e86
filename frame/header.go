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

import "encoding/binary"

// StandardHeaderSize is the header layout this package's ArgWriter and the
// consumer's frame reader agree on: an 8-byte DispatchPointer followed by
// an 8-byte total frame length (header + payload, as requested from
// AllocateInputFrame before rounding; DiscardInputFrame rounds it the same
// way, so it is exactly the value to hand DiscardInputFrame).
// The bare ring only cares about the first word (the dispatch pointer) and
// the WraparoundMarker sentinel; the length word is a domain-stack
// convention layered on top, not a core requirement.
const StandardHeaderSize = HeaderSize + 8

// WriteHeader encodes dp and totalLen into the first StandardHeaderSize
// bytes of dst. dst must be at least StandardHeaderSize bytes.
func WriteHeader(dst []byte, dp DispatchPointer, totalLen uint64) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(dp))
	binary.LittleEndian.PutUint64(dst[8:16], totalLen)
}

// ReadHeader decodes a header written by WriteHeader.
func ReadHeader(src []byte) (dp DispatchPointer, totalLen uint64) {
	dp = DispatchPointer(binary.LittleEndian.Uint64(src[0:8]))
	totalLen = binary.LittleEndian.Uint64(src[8:16])
	return
}
