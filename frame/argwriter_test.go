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
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgWriterWritesAndReadsBack(t *testing.T) {
	w := NewArgWriter()
	defer w.Release()

	w.WriteUint64(42)
	w.WriteInt64(-7)
	w.WriteFloat64(math.Float64bits(3.5))
	w.WriteString("hello")
	w.WriteBytes([]byte{1, 2, 3})

	buf := w.Bytes()
	off := 0

	assert.EqualValues(t, 42, binary.LittleEndian.Uint64(buf[off:off+8]))
	off += 8
	assert.EqualValues(t, -7, int64(binary.LittleEndian.Uint64(buf[off:off+8])))
	off += 8
	assert.Equal(t, 3.5, math.Float64frombits(binary.LittleEndian.Uint64(buf[off:off+8])))
	off += 8

	strLen := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	assert.EqualValues(t, 5, strLen)
	assert.Equal(t, "hello", string(buf[off:off+int(strLen)]))
	off += int(strLen)

	bytesLen := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	assert.EqualValues(t, 3, bytesLen)
	assert.Equal(t, []byte{1, 2, 3}, buf[off:off+int(bytesLen)])
	off += int(bytesLen)

	assert.Equal(t, off, w.Len())
}

func TestArgWriterResetReusesScratch(t *testing.T) {
	w := NewArgWriter()
	defer w.Release()

	w.WriteString("first")
	firstLen := w.Len()
	assert.Equal(t, firstLen, len("first")+8)
	firstBase := &w.Bytes()[0]

	w.Reset()
	assert.Equal(t, 0, w.Len())

	w.WriteString("s")
	assert.Equal(t, len("s")+8, w.Len())
	assert.Same(t, firstBase, &w.Bytes()[0], "Reset must keep and reuse the existing scratch")
}

func TestArgWriterGrowsPastInitialScratch(t *testing.T) {
	w := NewArgWriter()
	defer w.Release()

	big := strings.Repeat("x", argScratchPad*4)
	w.WriteString(big)

	buf := w.Bytes()
	strLen := binary.LittleEndian.Uint64(buf[0:8])
	assert.EqualValues(t, len(big), strLen)
	assert.Equal(t, big, string(buf[8:8+len(big)]))
}

func TestArgWriterStringDoesNotAliasCaller(t *testing.T) {
	w := NewArgWriter()
	defer w.Release()

	s := []byte("mutate-me")
	w.WriteString(string(s))
	s[0] = 'X'

	buf := w.Bytes()
	assert.Equal(t, "mutate-me", string(buf[8:]))
}
