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

// Package ringlog wires the core ring/tlocal machinery to a concrete
// dispatch table, consumer loop and sink, producing a runnable logging
// pipeline. It is the one package in this module that has an opinion about
// how the collaborators the core depends on (the facade, the consumer) are
// actually implemented; everything it imports could be replaced by an
// application that wants a different consumer or wire format while reusing
// ring/tlocal/bufalloc directly.
package ringlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/ringlog/bufalloc"
	"github.com/cloudwego/ringlog/committer"
	"github.com/cloudwego/ringlog/config"
	"github.com/cloudwego/ringlog/consumer"
	"github.com/cloudwego/ringlog/frame"
	"github.com/cloudwego/ringlog/ring"
	"github.com/cloudwego/ringlog/tlocal"
)

// Logger owns one dispatch table, one consumer loop, and the per-thread
// ring pool producers draw from. The zero value is not usable; construct
// with New.
type Logger struct {
	cfg      config.Config
	pool     *bufalloc.Pool
	table    *frame.DispatchTable
	registry *consumer.Registry
	loop     *consumer.Loop
	holder   *tlocal.Holder[*producerState]

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New constructs a Logger from cfg, registering table's handlers (table
// must already have every call site's RegisterHandler calls applied; New
// freezes it) and writing formatted output to sink. The consumer loop
// starts immediately in the background; call Close to stop it.
func New(cfg config.Config, table *frame.DispatchTable, sink consumer.Sink) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.LoggerOrNop()

	pool, err := bufalloc.NewPool(
		cfg.FrameAlignment.Bytes(),
		cfg.SlabBlockSize.Bytes(),
		cfg.SlabBlockSize.Bytes(),
		cfg.SlabArenaSize.Bytes(),
	)
	if err != nil {
		return nil, fmt.Errorf("ringlog: %w", err)
	}

	table.Freeze()

	registry := consumer.NewRegistry()
	loop := consumer.NewLoop(registry, table, sink, log)

	l := &Logger{
		cfg:      cfg,
		pool:     pool,
		table:    table,
		registry: registry,
		loop:     loop,
	}

	ringSize := cfg.RingSize.Bytes()
	alignment := cfg.FrameAlignment.Bytes()

	l.holder = tlocal.New(
		func() (*producerState, error) {
			facade := committer.New()
			r, err := ring.New(facade, pool, ringSize, alignment)
			if err != nil {
				return nil, err
			}
			facade.Bind(r)
			registry.Add(r)
			return &producerState{ring: r, facade: facade, w: frame.NewArgWriter()}, nil
		},
		func(ps *producerState) {
			if err := ps.ring.Close(); err != nil {
				log.Error("ringlog: ring close failed", zap.Error(err))
			}
			registry.Remove(ps.ring)
			ps.w.Release()
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		l.loop.RunSupervised(ctx)
		return nil
	})
	l.cancel = cancel
	l.eg = eg

	return l, nil
}

// Get returns the calling OS thread's Producer, constructing its ring on
// first call from that thread.
func (l *Logger) Get() (*Producer, error) {
	h, err := l.holder.Get()
	if err != nil {
		return nil, err
	}
	return &Producer{handle: h, state: h.Value(), table: l.table}, nil
}

// RegisterHandler is a convenience forward to the Logger's dispatch table,
// usable before New is called (the table must be registered completely and
// passed to New, which freezes it). Kept here so callers that build the
// table and the Logger in one place don't need to import frame directly
// for the common case.
func RegisterHandler(table *frame.DispatchTable, name string, fn frame.HandlerFunc) (frame.DispatchPointer, error) {
	return table.RegisterHandler(name, fn)
}

// Close stops the consumer loop and tears down every thread's still-live
// ring, draining each one (per ring.Close's contract) before returning.
// Producers that are still calling Emit concurrently with Close may
// observe a blocked Emit if Close's drain races a producer's own
// in-progress allocation; callers should quiesce producers before closing.
func (l *Logger) Close(ctx context.Context) error {
	l.holder.Close()
	l.cancel()

	done := make(chan error, 1)
	go func() { done <- l.eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
