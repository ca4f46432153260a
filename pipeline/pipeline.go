// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"maystream/sched"
)

// Processor is one named processing step. Process may return zero
// outputs to swallow an item (filtering, batch accumulation), one, or
// several.
type Processor interface {
	Name() string
	Process(ctx context.Context, item any) ([]any, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc struct {
	ProcName string
	Fn       func(ctx context.Context, item any) ([]any, error)
}

func (p ProcessorFunc) Name() string {
	return p.ProcName
}

func (p ProcessorFunc) Process(ctx context.Context, item any) ([]any, error) {
	return p.Fn(ctx, item)
}

type NotificationKind string

const (
	// NotificationData carries one shaped item leaving the last stage.
	NotificationData             NotificationKind = "data"
	NotificationBackpressure     NotificationKind = "backpressure"
	NotificationStageError       NotificationKind = "stageError"
	NotificationStarted          NotificationKind = "started"
	NotificationStopped          NotificationKind = "stopped"
	NotificationCleared          NotificationKind = "cleared"
	NotificationThresholdChanged NotificationKind = "priorityThresholdChanged"
)

// Notification is the pipeline's outward signal, covering shaped data
// as well as lifecycle and congestion reports.
type Notification struct {
	Kind      NotificationKind
	Pipeline  string
	Stage     string
	Item      any
	BufferLen int
	Threshold int
	Err       error
	Time      time.Time
}

type ListenerId uint64

// Pipeline is an ordered chain of buffered stages. Items enter through
// Push and leave as data notifications after the final stage.
type Pipeline struct {
	name      string
	stages    []*Stage
	clk       sched.Clock
	active    atomic.Bool
	threshold atomic.Int64

	mu        sync.Mutex
	nextId    ListenerId
	listeners map[ListenerId]func(Notification)
}

// NewPipeline creates an empty inactive pipeline. A nil clock selects
// the wall clock.
func NewPipeline(name string, clk sched.Clock) *Pipeline {
	if clk == nil {
		clk = sched.System()
	}
	return &Pipeline{
		name:      name,
		clk:       clk,
		listeners: make(map[ListenerId]func(Notification)),
	}
}

// Append adds a stage to the end of the chain. Stages must be
// assembled before the pipeline is started.
func (p *Pipeline) Append(name string, cfg StageConfig, proc Processor) *Pipeline {
	stage := newStage(name, cfg, proc, p.clk, p.publish)
	if len(p.stages) > 0 {
		p.stages[len(p.stages)-1].next = stage
	}
	p.stages = append(p.stages, stage)
	return p
}

// Subscribe registers a notification listener.
func (p *Pipeline) Subscribe(listener func(Notification)) ListenerId {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextId++
	p.listeners[p.nextId] = listener
	return p.nextId
}

func (p *Pipeline) Unsubscribe(id ListenerId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, id)
}

func (p *Pipeline) publish(n Notification) {
	n.Pipeline = p.name
	p.mu.Lock()
	listeners := make([]func(Notification), 0, len(p.listeners))
	for _, listener := range p.listeners {
		listeners = append(listeners, listener)
	}
	p.mu.Unlock()
	for _, listener := range listeners {
		listener(n)
	}
}

func (p *Pipeline) Start() {
	if p.active.CompareAndSwap(false, true) {
		p.publish(Notification{Kind: NotificationStarted, Time: time.Now()})
	}
}

// Stop flips the inactive flag; it is only checked at Push time, so
// items already inside the stages still drain.
func (p *Pipeline) Stop() {
	if p.active.CompareAndSwap(true, false) {
		p.publish(Notification{Kind: NotificationStopped, Time: time.Now()})
	}
}

func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// Clear empties all stage buffers.
func (p *Pipeline) Clear() {
	for _, stage := range p.stages {
		stage.Clear()
	}
	p.publish(Notification{Kind: NotificationCleared, Time: time.Now()})
}

// SetPriorityThreshold adjusts the shedding level; pushes below the
// threshold are rejected and counted as dropped.
func (p *Pipeline) SetPriorityThreshold(threshold int) {
	p.threshold.Store(int64(threshold))
	p.publish(Notification{Kind: NotificationThresholdChanged, Threshold: threshold, Time: time.Now()})
}

func (p *Pipeline) PriorityThreshold() int {
	return int(p.threshold.Load())
}

// Push offers an item to the first stage. It reports false while the
// pipeline is inactive, when the priority falls below the threshold,
// or when the first stage rejected the item.
func (p *Pipeline) Push(item any, priority int) bool {
	if !p.active.Load() || len(p.stages) == 0 {
		return false
	}
	first := p.stages[0]
	if priority < int(p.threshold.Load()) {
		first.countDropped()
		return false
	}
	return first.Push(item)
}

// StageMetrics returns a metrics snapshot per stage, in chain order.
func (p *Pipeline) StageMetrics() map[string]Metrics {
	metrics := make(map[string]Metrics, len(p.stages))
	for _, stage := range p.stages {
		metrics[stage.name] = stage.Metrics()
	}
	return metrics
}
