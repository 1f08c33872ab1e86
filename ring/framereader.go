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

package ring

import "github.com/cloudwego/ringlog/frame"

// FrameReader walks the committed region of a ring frame by frame, for the
// consumer: a cursor that transparently crosses the ring's wraparound
// boundary. Unlike a generic chunked reader that advances whenever the
// current chunk runs out of bytes, FrameReader's "next chunk" transition is
// the ring's own wraparound protocol: it only jumps to offset 0 when it
// reads the WraparoundMarker sentinel, never merely because it reached the
// end of the buffer (a contiguous frame is always placed entirely within
// one chunk or the other, never split, so there is nothing to stitch
// across the seam).
type FrameReader struct {
	r *ThreadInputBuffer
}

// NewFrameReader returns a reader over r's committed frames.
func NewFrameReader(r *ThreadInputBuffer) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next committed frame's dispatch pointer and payload (the
// bytes after the standard header), plus frameLen, the exact value to pass
// to DiscardInputFrame once the caller is done with the frame. ok is false
// once the reader has caught up to the ring's commit watermark.
//
// Wraparound sentinels are consumed transparently: Next calls Wraparound
// and keeps reading rather than surfacing a synthetic frame for the
// sentinel itself.
func (fr *FrameReader) Next() (dp frame.DispatchPointer, payload []byte, frameLen uint64, ok bool) {
	for {
		head := fr.r.Head()
		end := fr.r.CommitEnd()
		if head == end {
			return 0, nil, 0, false
		}

		dp = fr.r.DispatchAt(head)
		if dp == frame.WraparoundMarker {
			fr.r.Wraparound()
			continue
		}

		hdr := fr.r.BytesAt(head, frame.StandardHeaderSize)
		_, frameLen = frame.ReadHeader(hdr)
		payload = fr.r.BytesAt(head+frame.StandardHeaderSize, frameLen-frame.StandardHeaderSize)
		return dp, payload, frameLen, true
	}
}

// Discard reclaims a frame previously returned by Next, advancing the head
// and waking the producer if it was blocked on space.
func (fr *FrameReader) Discard(frameLen uint64) {
	fr.r.DiscardInputFrame(frameLen)
}
