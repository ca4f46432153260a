// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pipeline

import (
	"context"
	"sync"
	"time"

	"maystream/sched"
)

// NewFilter drops items failing the predicate.
func NewFilter(name string, keep func(item any) bool) Processor {
	return ProcessorFunc{
		ProcName: name,
		Fn: func(ctx context.Context, item any) ([]any, error) {
			if !keep(item) {
				return nil, nil
			}
			return []any{item}, nil
		},
	}
}

// NewMap applies a pure transform to every item.
func NewMap(name string, fn func(item any) (any, error)) Processor {
	return ProcessorFunc{
		ProcName: name,
		Fn: func(ctx context.Context, item any) ([]any, error) {
			out, err := fn(item)
			if err != nil {
				return nil, err
			}
			return []any{out}, nil
		},
	}
}

// batcher accumulates items and releases them as one []any item when
// the batch fills or the maximum wait elapses, whichever comes first.
type batcher struct {
	name    string
	size    int
	maxWait time.Duration
	clk     sched.Clock

	mu      sync.Mutex
	pending []any
	oldest  time.Time
}

// NewBatcher returns an accumulating processor. The surrounding stage
// drives the maximum-wait flush through the flusher interface.
func NewBatcher(name string, size int, maxWait time.Duration, clk sched.Clock) Processor {
	if clk == nil {
		clk = sched.System()
	}
	return &batcher{name: name, size: size, maxWait: maxWait, clk: clk}
}

func (b *batcher) Name() string {
	return b.name
}

func (b *batcher) Process(ctx context.Context, item any) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		b.oldest = b.clk.Now()
	}
	b.pending = append(b.pending, item)
	if len(b.pending) < b.size {
		return nil, nil
	}
	batch := b.pending
	b.pending = nil
	return []any{batch}, nil
}

func (b *batcher) PendingSince() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldest, len(b.pending) > 0
}

func (b *batcher) MaxWait() time.Duration {
	return b.maxWait
}

func (b *batcher) Flush() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return []any{batch}
}

// NewThrottler delays items so that at most one passes per interval.
func NewThrottler(name string, interval time.Duration, clk sched.Clock) Processor {
	if clk == nil {
		clk = sched.System()
	}
	var mu sync.Mutex
	var last time.Time
	return ProcessorFunc{
		ProcName: name,
		Fn: func(ctx context.Context, item any) ([]any, error) {
			mu.Lock()
			wait := time.Duration(0)
			if !last.IsZero() {
				wait = interval - clk.Now().Sub(last)
			}
			mu.Unlock()
			if wait > 0 {
				if err := clk.Sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
			mu.Lock()
			last = clk.Now()
			mu.Unlock()
			return []any{item}, nil
		},
	}
}

// deduplicator suppresses repeats of a derived key within a sliding
// window. Expired keys are swept opportunistically once per window.
type deduplicator struct {
	name   string
	keyFn  func(item any) string
	window time.Duration
	clk    sched.Clock

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func NewDeduplicator(name string, keyFn func(item any) string, window time.Duration, clk sched.Clock) Processor {
	if clk == nil {
		clk = sched.System()
	}
	return &deduplicator{
		name:   name,
		keyFn:  keyFn,
		window: window,
		clk:    clk,
		seen:   make(map[string]time.Time),
	}
}

func (d *deduplicator) Name() string {
	return d.name
}

func (d *deduplicator) Process(ctx context.Context, item any) ([]any, error) {
	key := d.keyFn(item)
	now := d.clk.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if now.Sub(d.lastSweep) >= d.window {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}
	if at, exists := d.seen[key]; exists && now.Sub(at) < d.window {
		return nil, nil
	}
	d.seen[key] = now
	return []any{item}, nil
}
