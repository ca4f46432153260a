// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pipeline

import (
	"context"
	"sync"
	"time"

	"maystream/marketapi"
	"maystream/sched"
)

// DropPolicy governs what happens when a stage buffer is at capacity.
type DropPolicy int

const (
	// DropOldest evicts the buffer head and accepts the new item.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming item, buffer unchanged.
	DropNewest
	// DropNone rejects as well; callers are expected to back off.
	DropNone
)

// StageConfig bounds one stage's buffer and pacing.
type StageConfig struct {
	BufferSize int
	Policy     DropPolicy
	// MinInterval throttles the drain loop: at most one item is
	// processed per interval. Zero disables throttling.
	MinInterval time.Duration
}

// Metrics is a point-in-time snapshot of one stage's counters.
type Metrics struct {
	Processed  uint64
	Dropped    uint64
	Errors     uint64
	HighWater  int
	AvgLatency time.Duration
}

// flusher is implemented by processors that accumulate items and
// need a timer-driven flush when input pauses, such as the batcher.
type flusher interface {
	// PendingSince reports when the oldest accumulated item arrived.
	PendingSince() (time.Time, bool)
	// MaxWait is the longest an accumulated item may be held.
	MaxWait() time.Duration
	// Flush releases whatever is accumulated.
	Flush() []any
}

// Stage wraps one processor with a bounded FIFO buffer. A single drain
// goroutine processes items strictly in arrival order; it stops when
// the buffer empties and is restarted by the next accepted push.
type Stage struct {
	name   string
	cfg    StageConfig
	proc   Processor
	next   *Stage
	notify func(Notification)
	clk    sched.Clock

	mu            sync.Mutex
	buf           []any
	draining      bool
	lastProcessed time.Time
	flushTimer    sched.Timer

	processed    uint64
	dropped      uint64
	errors       uint64
	highWater    int
	totalLatency time.Duration
}

func newStage(name string, cfg StageConfig, proc Processor, clk sched.Clock, notify func(Notification)) *Stage {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	return &Stage{
		name:   name,
		cfg:    cfg,
		proc:   proc,
		clk:    clk,
		notify: notify,
	}
}

func (s *Stage) Name() string {
	return s.name
}

// Push offers an item to the stage buffer. It reports false when the
// drop policy rejected the item; an overflow is never an error.
func (s *Stage) Push(item any) bool {
	s.mu.Lock()
	if len(s.buf) >= s.cfg.BufferSize {
		switch s.cfg.Policy {
		case DropOldest:
			s.buf = s.buf[1:]
			s.dropped++
		default: // DropNewest, DropNone
			s.dropped++
			s.mu.Unlock()
			return false
		}
	}
	s.buf = append(s.buf, item)
	if len(s.buf) > s.highWater {
		s.highWater = len(s.buf)
	}
	startDrain := !s.draining
	if startDrain {
		s.draining = true
		// A deferred flush armed during the previous idle period no
		// longer matches the accumulating state; the drain re-arms it
		// when it goes idle again.
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
	}
	s.mu.Unlock()

	if startDrain {
		go s.drain()
	}
	return true
}

// drain processes one item at a time until the buffer empties.
// A failing item is counted and reported, never fatal to the loop.
func (s *Stage) drain() {
	for {
		s.mu.Lock()
		if len(s.buf) == 0 {
			s.draining = false
			s.armFlushLocked()
			s.mu.Unlock()
			return
		}
		item := s.buf[0]
		s.buf = s.buf[1:]
		last := s.lastProcessed
		s.mu.Unlock()

		if s.cfg.MinInterval > 0 && !last.IsZero() {
			if wait := s.cfg.MinInterval - s.clk.Now().Sub(last); wait > 0 {
				_ = s.clk.Sleep(context.Background(), wait)
			}
		}

		start := s.clk.Now()
		outputs, err := s.proc.Process(context.Background(), item)
		elapsed := s.clk.Now().Sub(start)

		s.mu.Lock()
		s.lastProcessed = s.clk.Now()
		if err != nil {
			s.errors++
			s.mu.Unlock()
			s.notify(Notification{
				Kind:  NotificationStageError,
				Stage: s.name,
				Item:  item,
				Err:   &marketapi.ProcessingError{Stage: s.name, Err: err},
				Time:  time.Now(),
			})
			continue
		}
		s.processed++
		s.totalLatency += elapsed
		s.mu.Unlock()

		s.forward(outputs)
	}
}

// forward hands processor outputs to the next stage, or reports them
// as shaped pipeline output at the end of the chain.
func (s *Stage) forward(outputs []any) {
	for _, out := range outputs {
		if s.next == nil {
			s.notify(Notification{Kind: NotificationData, Stage: s.name, Item: out, Time: time.Now()})
			continue
		}
		if !s.next.Push(out) {
			s.notify(Notification{
				Kind:      NotificationBackpressure,
				Stage:     s.next.name,
				Item:      out,
				BufferLen: s.next.bufferLen(),
				Time:      time.Now(),
			})
		}
	}
}

// armFlushLocked schedules a deferred flush for accumulating
// processors when the drain loop goes idle with items pending.
func (s *Stage) armFlushLocked() {
	f, ok := s.proc.(flusher)
	if !ok {
		return
	}
	since, pending := f.PendingSince()
	if !pending {
		return
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	wait := f.MaxWait() - s.clk.Now().Sub(since)
	if wait < 0 {
		wait = 0
	}
	s.flushTimer = s.clk.AfterFunc(wait, func() {
		outputs := f.Flush()
		if len(outputs) == 0 {
			return
		}
		s.mu.Lock()
		s.processed += uint64(len(outputs))
		s.mu.Unlock()
		s.forward(outputs)
	})
}

func (s *Stage) bufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Clear empties the buffer and cancels a pending deferred flush.
func (s *Stage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// Metrics returns a snapshot of the stage counters.
func (s *Stage) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{
		Processed: s.processed,
		Dropped:   s.dropped,
		Errors:    s.errors,
		HighWater: s.highWater,
	}
	if s.processed > 0 {
		m.AvgLatency = s.totalLatency / time.Duration(s.processed)
	}
	return m
}

func (s *Stage) countDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}
