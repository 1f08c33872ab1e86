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

// Command ringlogdemo spawns a Logger and a configurable number of producer
// goroutines emitting synthetic records, reporting throughput when done.
// It exists purely as a manual smoke-testing aid and is not part of the
// module's public contract.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudwego/ringlog"
	"github.com/cloudwego/ringlog/config"
	"github.com/cloudwego/ringlog/frame"
)

func main() {
	var (
		producers int
		perThread int
		output    string
	)

	root := &cobra.Command{
		Use:   "ringlogdemo",
		Short: "Exercise the ringlog pipeline end to end and report throughput.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(producers, perThread, output)
		},
	}
	root.Flags().IntVar(&producers, "producers", 8, "number of concurrent producer goroutines")
	root.Flags().IntVar(&perThread, "records", 100000, "records emitted per producer goroutine")
	root.Flags().StringVar(&output, "output", "-", "output file, or - for stdout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(producers, perThread int, output string) error {
	sink := os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		sink = f
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zlog.Sync()

	table := frame.NewDispatchTable()
	dp, err := table.RegisterHandler("demo.counter", formatCounter)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.Logger = zlog

	logger, err := ringlog.New(cfg, table, sink)
	if err != nil {
		return fmt.Errorf("ringlogdemo: %w", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	var emitted int64

	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p, err := logger.Get()
			if err != nil {
				zlog.Error("ringlogdemo: Get failed", zap.Error(err))
				return
			}
			defer p.Release()

			for n := 0; n < perThread; n++ {
				err := p.Emit(dp, func(w *frame.ArgWriter) {
					w.WriteInt64(int64(worker))
					w.WriteInt64(int64(n))
				})
				if err != nil {
					zlog.Error("ringlogdemo: Emit failed", zap.Error(err))
					return
				}
				atomic.AddInt64(&emitted, 1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := logger.Close(ctx); err != nil {
		return fmt.Errorf("ringlogdemo: close: %w", err)
	}

	fmt.Fprintf(os.Stderr, "emitted %d records in %s (%.0f records/sec)\n",
		emitted, elapsed, float64(emitted)/elapsed.Seconds())
	return nil
}

func formatCounter(dst []byte, payload []byte) []byte {
	if len(payload) < 16 {
		return dst
	}
	worker := int64(le64(payload[0:8]))
	n := int64(le64(payload[8:16]))
	dst = append(dst, []byte("worker="+strconv.FormatInt(worker, 10)+" n="+strconv.FormatInt(n, 10)+"\n")...)
	return dst
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
