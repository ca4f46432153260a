// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package replay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"maystream/calendar"
	"maystream/marketapi"
	"maystream/marketval"
	"maystream/sched"
)

type State int

const (
	StateIdle State = iota
	StateReady
	StateRunning
	StatePaused
	StateStopped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

type EventKind string

const (
	EventBar      EventKind = "bar"
	EventProgress EventKind = "progress"
	EventStart    EventKind = "start"
	EventPause    EventKind = "pause"
	EventResume   EventKind = "resume"
	EventStop     EventKind = "stop"
	EventReset    EventKind = "reset"
)

// Event is emitted by the engine during a replay run. Progress is a
// percentage in [0,100], set on progress and stop events.
type Event struct {
	Kind     EventKind
	Bar      *marketval.Bar
	Progress float64
	// Time is the simulated date, the timestamp of the latest
	// emitted bar.
	Time time.Time
}

// BarSource loads historical series; the router satisfies it.
type BarSource interface {
	HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error)
}

// Config describes one backtest run.
type Config struct {
	Symbols   []string
	Start     time.Time
	End       time.Time
	Timeframe marketval.Timeframe
	// IncludeAfterHours keeps pre/post market bars; otherwise intraday
	// series are filtered to the regular session.
	IncludeAfterHours bool
	// Speed 0 replays as fast as possible, above 0 it is a real-time
	// multiplier.
	Speed     float64
	BatchSize int
	// Provider optionally pins the historical load to one venue.
	Provider marketval.ProviderId
}

type ListenerId uint64

// Engine replays a merged historical timeline as BAR events at a
// controllable pace, so strategy code sees the same event shape as in
// live streaming.
type Engine struct {
	source BarSource
	cal    calendar.MarketCalendar
	clk    sched.Clock

	mu          sync.Mutex
	cfg         Config
	timeline    []marketval.Bar
	cursor      int
	state       State
	currentTime time.Time
	cancelTick  context.CancelFunc
	nextId      ListenerId
	listeners   map[ListenerId]func(Event)
}

// NewEngine creates an idle engine. A nil clock selects the wall
// clock.
func NewEngine(source BarSource, cal calendar.MarketCalendar, clk sched.Clock) *Engine {
	if clk == nil {
		clk = sched.System()
	}
	return &Engine{
		source:    source,
		cal:       cal,
		clk:       clk,
		listeners: make(map[ListenerId]func(Event)),
	}
}

func (e *Engine) Subscribe(listener func(Event)) ListenerId {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextId++
	e.listeners[e.nextId] = listener
	return e.nextId
}

func (e *Engine) Unsubscribe(id ListenerId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	listeners := make([]func(Event), 0, len(e.listeners))
	for _, listener := range e.listeners {
		listeners = append(listeners, listener)
	}
	e.mu.Unlock()
	for _, listener := range listeners {
		listener(ev)
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentTime is the simulated date, the timestamp of the latest
// emitted bar.
func (e *Engine) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}

// Progress reports the replay position as a percentage.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() float64 {
	if len(e.timeline) == 0 {
		return 0
	}
	return 100 * float64(e.cursor) / float64(len(e.timeline))
}

func validateConfig(cfg Config) error {
	if len(cfg.Symbols) == 0 {
		return &marketapi.ConfigurationError{Reason: "replay requires at least one symbol"}
	}
	if !cfg.Start.Before(cfg.End) {
		return &marketapi.ConfigurationError{Reason: "replay start must precede end"}
	}
	if cfg.BatchSize <= 0 {
		return &marketapi.ConfigurationError{Reason: "replay batch size must be positive"}
	}
	if cfg.Speed < 0 {
		return &marketapi.ConfigurationError{Reason: "replay speed must not be negative"}
	}
	return nil
}

// Initialize loads all per-symbol series concurrently, filters them to
// market hours and merges them into one chronological timeline with
// stable tie-breaking.
func (e *Engine) Initialize(ctx context.Context, cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return errors.New("replay is active, stop it before reinitializing")
	}
	e.mu.Unlock()

	series := make([][]marketval.Bar, len(cfg.Symbols))
	loadErrs := make([]error, len(cfg.Symbols))
	var wg sync.WaitGroup
	for i, symbol := range cfg.Symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			bars, err := e.source.HistoricalBars(ctx, marketval.BarsRequest{
				Symbol:    symbol,
				Timeframe: cfg.Timeframe,
				FromTime:  cfg.Start,
				ToTime:    cfg.End,
				Provider:  cfg.Provider,
			})
			if err != nil {
				loadErrs[i] = err
				return
			}
			series[i] = e.filterMarketHours(bars, cfg)
		}(i, symbol)
	}
	wg.Wait()
	for _, err := range loadErrs {
		if err != nil {
			return err
		}
	}

	var timeline []marketval.Bar
	for _, s := range series {
		timeline = append(timeline, s...)
	}
	// Stable sort keeps the configured symbol order for equal
	// timestamps.
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	e.mu.Lock()
	e.cfg = cfg
	e.timeline = timeline
	e.cursor = 0
	e.currentTime = time.Time{}
	e.state = StateReady
	e.mu.Unlock()
	return nil
}

func (e *Engine) filterMarketHours(bars []marketval.Bar, cfg Config) []marketval.Bar {
	filtered := make([]marketval.Bar, 0, len(bars))
	for _, b := range bars {
		if cfg.Timeframe.Intraday() {
			if cfg.IncludeAfterHours {
				if !e.cal.IsExtendedSession(b.Timestamp) {
					continue
				}
			} else if !e.cal.IsRegularSession(b.Timestamp) {
				continue
			}
		} else if trading, _ := e.cal.IsTradingDay(b.Timestamp); !trading {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered
}

// Start begins emitting from the current cursor.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != StateReady {
		e.mu.Unlock()
		return errors.New("replay is not initialized")
	}
	e.state = StateRunning
	e.mu.Unlock()
	e.emit(Event{Kind: EventStart, Time: e.CurrentTime()})
	go e.run()
	return nil
}

// run emits batches until the timeline is exhausted or the state
// changes. Pausing or stopping cancels only the pending inter-batch
// delay; an in-flight batch always completes.
func (e *Engine) run() {
	for {
		e.mu.Lock()
		if e.state != StateRunning {
			e.mu.Unlock()
			return
		}
		end := e.cursor + e.cfg.BatchSize
		if end > len(e.timeline) {
			end = len(e.timeline)
		}
		batch := e.timeline[e.cursor:end]
		e.cursor = end
		if len(batch) > 0 {
			e.currentTime = batch[len(batch)-1].Timestamp
		}
		progress := e.progressLocked()
		finished := e.cursor >= len(e.timeline)
		speed := e.cfg.Speed
		var delay time.Duration
		if !finished && speed > 0 && len(batch) > 0 {
			delay = time.Duration(float64(e.timeline[e.cursor].Timestamp.Sub(batch[len(batch)-1].Timestamp)) / speed)
		}
		simTime := e.currentTime
		e.mu.Unlock()

		for i := range batch {
			e.emit(Event{Kind: EventBar, Bar: &batch[i], Time: batch[i].Timestamp})
		}
		e.emit(Event{Kind: EventProgress, Progress: progress, Time: simTime})

		if finished {
			e.mu.Lock()
			e.state = StateDone
			e.mu.Unlock()
			e.emit(Event{Kind: EventStop, Progress: progress, Time: simTime})
			return
		}

		if delay > 0 {
			tickCtx, cancel := context.WithCancel(context.Background())
			e.mu.Lock()
			if e.state != StateRunning {
				e.mu.Unlock()
				cancel()
				return
			}
			e.cancelTick = cancel
			e.mu.Unlock()

			err := e.clk.Sleep(tickCtx, delay)
			cancel()

			e.mu.Lock()
			e.cancelTick = nil
			e.mu.Unlock()
			if err != nil {
				// The pending tick was cancelled by pause or stop;
				// the cursor stays where the batch left it.
				return
			}
		}
	}
}

// Pause cancels the pending tick, preserving the cursor.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return errors.New("replay is not running")
	}
	e.state = StatePaused
	cancel := e.cancelTick
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.emit(Event{Kind: EventPause, Progress: e.Progress(), Time: e.CurrentTime()})
	return nil
}

// Resume reschedules from the paused cursor with no duplication or gap.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return errors.New("replay is not paused")
	}
	e.state = StateRunning
	e.mu.Unlock()
	e.emit(Event{Kind: EventResume, Progress: e.Progress(), Time: e.CurrentTime()})
	go e.run()
	return nil
}

// Stop cancels scheduling and marks the run cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	cancel := e.cancelTick
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.emit(Event{Kind: EventStop, Progress: e.Progress(), Time: e.CurrentTime()})
}

// Reset zeroes the cursor and simulated date so a fresh Start can
// follow reconfiguration. The loaded timeline is kept until the next
// Initialize.
func (e *Engine) Reset() error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return errors.New("replay is active, stop it before resetting")
	}
	e.cursor = 0
	e.currentTime = time.Time{}
	if len(e.timeline) > 0 {
		e.state = StateReady
	} else {
		e.state = StateIdle
	}
	e.mu.Unlock()
	e.emit(Event{Kind: EventReset})
	return nil
}
