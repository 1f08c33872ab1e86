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

// Package config holds the sizing and wiring knobs for a ringlog Logger,
// accepted as human-readable strings the way an operator would write them
// in a YAML/flag value, then validated into the plain uint64s the lower
// packages need.
package config

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/cloudwego/ringlog/align"
	"github.com/cloudwego/ringlog/frame"
)

// Config sizes one Logger's ring buffers and backing slab allocator.
type Config struct {
	// RingSize is the capacity of each producer thread's input ring.
	RingSize datasize.ByteSize

	// FrameAlignment is the alignment every frame is padded up to. Must be
	// a power of two and at least frame.HeaderSize.
	FrameAlignment datasize.ByteSize

	// SlabBlockSize is the size of the fixed block bufalloc carves out for
	// one ring. Must equal RingSize; kept as a separate field because the
	// allocator and the ring are independently configurable components.
	SlabBlockSize datasize.ByteSize

	// SlabArenaSize is the size of one backing arena bufalloc grows by when
	// it runs out of blocks. Larger values mean fewer OS allocations and
	// more committed-but-unused memory.
	SlabArenaSize datasize.ByteSize

	// Logger receives diagnostics for events that must never surface
	// through the hot-path return values (handler panics, sink write and
	// flush failures, ring close failures). Defaults to zap.NewNop() if nil.
	Logger *zap.Logger
}

// DefaultConfig returns settings scaled to a realistic production size: a
// 1MiB ring per thread, 64-byte frame
// alignment (wide enough for a cache line and the 16-byte standard frame
// header), and 16MiB slab arenas so a few hundred producer threads share a
// small number of underlying allocations.
func DefaultConfig() Config {
	return Config{
		RingSize:       1 * datasize.MB,
		FrameAlignment: 64 * datasize.B,
		SlabBlockSize:  1 * datasize.MB,
		SlabArenaSize:  16 * datasize.MB,
		Logger:         zap.NewNop(),
	}
}

// Validate checks the configured sizes against the invariants bufalloc and
// ring enforce at construction, returning a descriptive error before any
// allocation is attempted.
func (c Config) Validate() error {
	align64 := c.FrameAlignment.Bytes()
	if !align.IsPowerOfTwo(align64) {
		return fmt.Errorf("config: FrameAlignment %s is not a power of two", c.FrameAlignment)
	}
	if align64 < frame.HeaderSize {
		return fmt.Errorf("config: FrameAlignment %s is smaller than the %d-byte frame header", c.FrameAlignment, frame.HeaderSize)
	}
	ringSize := c.RingSize.Bytes()
	if ringSize == 0 {
		return fmt.Errorf("config: RingSize must be non-zero")
	}
	if !align.IsAligned(ringSize, align64) {
		return fmt.Errorf("config: RingSize %s is not a multiple of FrameAlignment %s", c.RingSize, c.FrameAlignment)
	}
	if c.SlabBlockSize.Bytes() != ringSize {
		return fmt.Errorf("config: SlabBlockSize %s must equal RingSize %s", c.SlabBlockSize, c.RingSize)
	}
	if !align.IsPowerOfTwo(ringSize) {
		return fmt.Errorf("config: SlabBlockSize %s is not a power of two", c.SlabBlockSize)
	}
	if c.SlabArenaSize.Bytes() < ringSize || c.SlabArenaSize.Bytes()%ringSize != 0 {
		return fmt.Errorf("config: SlabArenaSize %s must be a multiple of SlabBlockSize %s", c.SlabArenaSize, c.SlabBlockSize)
	}
	return nil
}

// LoggerOrNop returns c.Logger, or a no-op logger if unset.
func (c Config) LoggerOrNop() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
