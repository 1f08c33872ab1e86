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
	"context"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cloudwego/ringlog/bufiox"
	"github.com/cloudwego/ringlog/frame"
	"github.com/cloudwego/ringlog/ring"
)

// Loop is the single output-thread reader: it round-robins the registry's
// rings, decodes frames with a frame.DispatchTable and writes whatever the
// registered frame.HandlerFuncs produce to a Sink. Supervision (recover
// from a handler panic, log it, keep going) is generalized into a full
// restart loop with backoff since this is the single goroutine a Logger
// depends on to ever make progress, not one of a disposable worker pool.
type Loop struct {
	registry *Registry
	table    *frame.DispatchTable
	sink     Sink
	log      *zap.Logger
	lines    *linebufPool
	out      *bufiox.DefaultWriter

	pollInterval time.Duration
}

// NewLoop returns a Loop that reads frames registered in reg, dispatches
// them through table, and writes results to sink. log receives diagnostics
// about malformed frames and recovered handler panics; it must not be nil
// (pass zap.NewNop() to discard). Handler output is buffered through a
// bufiox.Writer and flushed once per registry sweep instead of once per
// record, so a burst of small log lines costs one Write (or Writev, when
// sink is a net.Conn) instead of many.
func NewLoop(reg *Registry, table *frame.DispatchTable, sink Sink, log *zap.Logger) *Loop {
	return &Loop{
		registry:     reg,
		table:        table,
		sink:         sink,
		log:          log,
		lines:        newLinebufPool(),
		out:          bufiox.NewDefaultWriter(sink),
		pollInterval: 2 * time.Millisecond,
	}
}

// Run drains registered rings until ctx is cancelled. A handler panic is
// recovered, logged, and the rest of that frame's output discarded — it
// does not take down the loop. Run itself never returns until ctx is done;
// call it from a supervised goroutine (see RunSupervised) if you want the
// loop restarted after an unexpected return.
func (l *Loop) Run(ctx context.Context) error {
	readers := map[*ring.ThreadInputBuffer]*ring.FrameReader{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rings := l.registry.Snapshot()
		if len(rings) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.pollInterval):
			}
			continue
		}

		did := false
		for _, r := range rings {
			fr, ok := readers[r]
			if !ok {
				fr = ring.NewFrameReader(r)
				readers[r] = fr
			}
			if l.drain(fr) {
				did = true
			}
		}

		if err := l.out.Flush(); err != nil {
			l.log.Error("ringlog: sink flush failed", zap.Error(err))
		}

		if !did {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.pollInterval):
			}
		}
	}
}

// drain decodes and dispatches every currently-visible frame from fr,
// returning whether it did any work.
func (l *Loop) drain(fr *ring.FrameReader) (didWork bool) {
	for {
		dp, payload, frameLen, ok := fr.Next()
		if !ok {
			return didWork
		}
		didWork = true
		l.dispatch(dp, payload)
		fr.Discard(frameLen)
	}
}

func (l *Loop) dispatch(dp frame.DispatchPointer, payload []byte) {
	handler := l.table.Handler(dp)
	if handler == nil {
		l.log.Warn("ringlog: frame with unknown dispatch pointer", zap.Uint64("dispatch_pointer", uint64(dp)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("ringlog: recovered panic in frame handler",
				zap.Any("panic", r),
				zap.Uint64("dispatch_pointer", uint64(dp)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	buf := l.lines.get(len(payload) * 2)
	buf = handler(buf, payload)
	if len(buf) == 0 {
		l.lines.put(buf)
		return
	}
	if _, err := l.out.WriteBinary(buf); err != nil {
		l.log.Error("ringlog: sink write failed", zap.Error(err))
	}
	l.lines.put(buf)
}

// RunSupervised runs Run in a loop, restarting it with exponential backoff
// if it returns for any reason other than ctx being done. Run only returns
// early on a bug in this package (it recovers handler panics itself), so
// this is a last-resort safety net, not the primary error path.
func (l *Loop) RunSupervised(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	for {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("ringlog: consumer loop panicked, restarting",
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
				}
			}()
			return l.Run(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		l.log.Warn("ringlog: consumer loop exited unexpectedly, restarting",
			zap.Error(err), zap.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
