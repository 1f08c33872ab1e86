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
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cloudwego/ringlog/bufalloc"
	"github.com/cloudwego/ringlog/committer"
	"github.com/cloudwego/ringlog/frame"
	"github.com/cloudwego/ringlog/ring"
)

func newTestRingAndFacade(t *testing.T) (*ring.ThreadInputBuffer, *committer.Facade) {
	t.Helper()
	pool, err := bufalloc.NewPool(16, 256, 256, 1024)
	require.NoError(t, err)
	f := committer.New()
	r, err := ring.New(f, pool, 256, 16)
	require.NoError(t, err)
	f.Bind(r)
	return r, f
}

func emitRecord(t *testing.T, r *ring.ThreadInputBuffer, f *committer.Facade, dp frame.DispatchPointer, payload []byte) {
	t.Helper()
	total := uint64(frame.StandardHeaderSize + len(payload))
	buf := r.AllocateInputFrame(total)
	frame.WriteHeader(buf, dp, total)
	copy(buf[frame.StandardHeaderSize:], payload)
	require.NoError(t, f.Commit())
}

func TestLoopDispatchesAndWritesToSink(t *testing.T) {
	table := frame.NewDispatchTable()
	dp, err := table.RegisterHandler("echo", func(dst, payload []byte) []byte {
		return append(dst, payload...)
	})
	require.NoError(t, err)
	table.Freeze()

	reg := NewRegistry()
	r, f := newTestRingAndFacade(t)
	reg.Add(r)

	var sink bytes.Buffer
	var mu sync.Mutex
	loop := NewLoop(reg, table, &syncWriter{w: &sink, mu: &mu}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	emitRecord(t, r, f, dp, []byte("hello\n"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sink.String() == "hello\n"
	}, time.Second, time.Millisecond)
}

func TestLoopRecoversHandlerPanic(t *testing.T) {
	table := frame.NewDispatchTable()
	dpPanic, err := table.RegisterHandler("boom", func(dst, payload []byte) []byte {
		panic("handler exploded")
	})
	require.NoError(t, err)
	dpOK, err := table.RegisterHandler("ok", func(dst, payload []byte) []byte {
		return append(dst, payload...)
	})
	require.NoError(t, err)
	table.Freeze()

	reg := NewRegistry()
	r, f := newTestRingAndFacade(t)
	reg.Add(r)

	var sink bytes.Buffer
	var mu sync.Mutex
	core, obs := observer.New(zap.ErrorLevel)
	loop := NewLoop(reg, table, &syncWriter{w: &sink, mu: &mu}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	emitRecord(t, r, f, dpPanic, []byte("x"))
	emitRecord(t, r, f, dpOK, []byte("still-alive\n"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sink.String() == "still-alive\n"
	}, time.Second, time.Millisecond, "loop must survive a handler panic and keep processing later frames")

	assert.GreaterOrEqual(t, obs.Len(), 1, "the panic must be logged as a diagnostic")
}

func TestLoopUnknownDispatchPointerIsLoggedAndSkipped(t *testing.T) {
	table := frame.NewDispatchTable()
	table.Freeze()

	reg := NewRegistry()
	r, f := newTestRingAndFacade(t)
	reg.Add(r)

	core, obs := observer.New(zap.WarnLevel)
	loop := NewLoop(reg, table, &bytes.Buffer{}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	emitRecord(t, r, f, frame.DispatchPointer(123456), []byte("x"))

	require.Eventually(t, func() bool {
		return obs.Len() >= 1
	}, time.Second, time.Millisecond)
}

// syncWriter wraps an io.Writer with a mutex so the test's assertions can
// read the buffer concurrently with the loop goroutine writing to it.
type syncWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
