// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maystream/calendar"
	"maystream/marketapi"
	"maystream/marketval"
	"maystream/sched"
)

// fakeSource serves canned per-symbol series.
type fakeSource struct {
	mu     sync.Mutex
	series map[string][]marketval.Bar
	loads  int
}

func (f *fakeSource) HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.series[req.Symbol], nil
}

// fakeClock blocks every sleep until its context is cancelled and
// signals when a sleep begins, making tick scheduling deterministic.
type fakeClock struct {
	sleeping chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{sleeping: make(chan struct{}, 16)}
}

func (f *fakeClock) Now() time.Time { return time.Now() }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeping <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) sched.Timer {
	return time.AfterFunc(d, fn)
}

func dailyBar(symbol string, t time.Time) marketval.Bar {
	return marketval.Bar{
		Symbol:     symbol,
		ClosePrice: decimal.New(100, 0),
		Timeframe:  marketval.TimeframeOneDay,
		Timestamp:  t,
	}
}

// Trading days in March 2024.
var (
	day1 = time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 3, 6, 5, 0, 0, 0, time.UTC)
	day4 = time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)
)

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:   symbols,
		Start:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Timeframe: marketval.TimeframeOneDay,
		Speed:     0,
		BatchSize: 2,
	}
}

type recorded struct {
	mu       sync.Mutex
	bars     []marketval.Bar
	events   []Event
	done     chan struct{}
	doneOnce sync.Once
	id       ListenerId
}

func record(e *Engine) *recorded {
	r := &recorded{done: make(chan struct{})}
	r.id = e.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		if ev.Kind == EventBar {
			r.bars = append(r.bars, *ev.Bar)
		}
		r.mu.Unlock()
		if ev.Kind == EventStop {
			r.doneOnce.Do(func() { close(r.done) })
		}
	})
	return r
}

func (r *recorded) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for replay to finish")
	}
}

func TestReplayEmitsAllBarsThenStops(t *testing.T) {
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day2), dailyBar("AAPL", day3)},
	}}
	e := NewEngine(source, calendar.NewUSMarketCalendar(), nil)
	require.NoError(t, e.Initialize(context.Background(), testConfig("AAPL")))

	r := record(e)
	require.NoError(t, e.Start())
	r.waitDone(t)

	require.Len(t, r.bars, 3)
	for i := 1; i < len(r.bars); i++ {
		assert.False(t, r.bars[i].Timestamp.Before(r.bars[i-1].Timestamp))
	}
	assert.Equal(t, StateDone, e.State())

	// Progress reaches 100 only with the final batch, and exactly one
	// stop event follows the last bar.
	var progresses []float64
	stops := 0
	for _, ev := range r.events {
		switch ev.Kind {
		case EventProgress:
			progresses = append(progresses, ev.Progress)
		case EventStop:
			stops++
		}
	}
	require.NotEmpty(t, progresses)
	for _, p := range progresses[:len(progresses)-1] {
		assert.Less(t, p, float64(100))
	}
	assert.Equal(t, float64(100), progresses[len(progresses)-1])
	assert.Equal(t, 1, stops)
}

func TestReplayMergesSymbolsChronologically(t *testing.T) {
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day3)},
		"MSFT": {dailyBar("MSFT", day2), dailyBar("MSFT", day4)},
	}}
	e := NewEngine(source, calendar.NewUSMarketCalendar(), nil)
	require.NoError(t, e.Initialize(context.Background(), testConfig("AAPL", "MSFT")))

	r := record(e)
	require.NoError(t, e.Start())
	r.waitDone(t)

	require.Len(t, r.bars, 4)
	assert.Equal(t, []string{"AAPL", "MSFT", "AAPL", "MSFT"}, symbolsOf(r.bars))
	assert.Equal(t, 2, source.loads)
}

func TestReplayStableTieBreak(t *testing.T) {
	// Equal timestamps keep the configured symbol order.
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day2)},
		"MSFT": {dailyBar("MSFT", day1), dailyBar("MSFT", day2)},
	}}
	e := NewEngine(source, calendar.NewUSMarketCalendar(), nil)
	require.NoError(t, e.Initialize(context.Background(), testConfig("MSFT", "AAPL")))

	r := record(e)
	require.NoError(t, e.Start())
	r.waitDone(t)

	assert.Equal(t, []string{"MSFT", "AAPL", "MSFT", "AAPL"}, symbolsOf(r.bars))
}

func symbolsOf(bars []marketval.Bar) []string {
	symbols := make([]string, 0, len(bars))
	for _, b := range bars {
		symbols = append(symbols, b.Symbol)
	}
	return symbols
}

func TestReplayPauseResumeNoDuplicateNoGap(t *testing.T) {
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day2), dailyBar("AAPL", day3)},
	}}
	clk := newFakeClock()
	e := NewEngine(source, calendar.NewUSMarketCalendar(), clk)
	cfg := testConfig("AAPL")
	cfg.Speed = 60
	cfg.BatchSize = 1
	require.NoError(t, e.Initialize(context.Background(), cfg))

	r := record(e)
	require.NoError(t, e.Start())

	// First batch is out, the engine parks on the inter-batch delay.
	<-clk.sleeping
	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.State())

	require.NoError(t, e.Resume())
	<-clk.sleeping
	require.NoError(t, e.Pause())
	require.NoError(t, e.Resume())
	r.waitDone(t)

	// Every bar exactly once, in order.
	require.Len(t, r.bars, 3)
	assert.Equal(t, day1, r.bars[0].Timestamp)
	assert.Equal(t, day2, r.bars[1].Timestamp)
	assert.Equal(t, day3, r.bars[2].Timestamp)
	assert.Equal(t, StateDone, e.State())
}

func TestReplayStopCancelsPendingTick(t *testing.T) {
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day2), dailyBar("AAPL", day3)},
	}}
	clk := newFakeClock()
	e := NewEngine(source, calendar.NewUSMarketCalendar(), clk)
	cfg := testConfig("AAPL")
	cfg.Speed = 60
	cfg.BatchSize = 1
	require.NoError(t, e.Initialize(context.Background(), cfg))

	r := record(e)
	require.NoError(t, e.Start())
	<-clk.sleeping
	e.Stop()
	r.waitDone(t)

	// The in-flight batch completed, nothing after it.
	assert.Len(t, r.bars, 1)
	assert.Equal(t, StateStopped, e.State())
}

func TestReplayResetAllowsFreshRun(t *testing.T) {
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {dailyBar("AAPL", day1), dailyBar("AAPL", day2)},
	}}
	e := NewEngine(source, calendar.NewUSMarketCalendar(), nil)
	require.NoError(t, e.Initialize(context.Background(), testConfig("AAPL")))

	r := record(e)
	require.NoError(t, e.Start())
	r.waitDone(t)
	require.Len(t, r.bars, 2)

	require.NoError(t, e.Reset())
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, float64(0), e.Progress())
	assert.True(t, e.CurrentTime().IsZero())

	r2 := record(e)
	require.NoError(t, e.Start())
	r2.waitDone(t)
	assert.Len(t, r2.bars, 2)
}

func TestReplayMarketHoursFilter(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2024-03-04 is a regular trading Monday.
	regular := time.Date(2024, 3, 4, 10, 0, 0, 0, et)
	preMarket := time.Date(2024, 3, 4, 7, 0, 0, 0, et)
	overnight := time.Date(2024, 3, 4, 2, 0, 0, 0, et)

	minuteBar := func(t time.Time) marketval.Bar {
		b := dailyBar("AAPL", t)
		b.Timeframe = marketval.TimeframeOneMinute
		return b
	}
	source := &fakeSource{series: map[string][]marketval.Bar{
		"AAPL": {minuteBar(overnight), minuteBar(preMarket), minuteBar(regular)},
	}}
	e := NewEngine(source, calendar.NewUSMarketCalendar(), nil)

	cfg := testConfig("AAPL")
	cfg.Timeframe = marketval.TimeframeOneMinute
	require.NoError(t, e.Initialize(context.Background(), cfg))

	r := record(e)
	require.NoError(t, e.Start())
	r.waitDone(t)
	require.Len(t, r.bars, 1)
	assert.Equal(t, regular, r.bars[0].Timestamp)

	// Including after hours keeps the pre-market bar but still drops
	// the overnight one.
	cfg.IncludeAfterHours = true
	require.NoError(t, e.Initialize(context.Background(), cfg))
	r2 := record(e)
	require.NoError(t, e.Start())
	r2.waitDone(t)
	require.Len(t, r2.bars, 2)
	assert.Equal(t, preMarket, r2.bars[0].Timestamp)
}

func TestInitializeValidatesConfig(t *testing.T) {
	e := NewEngine(&fakeSource{}, calendar.NewUSMarketCalendar(), nil)
	var cfgErr *marketapi.ConfigurationError

	err := e.Initialize(context.Background(), Config{})
	assert.ErrorAs(t, err, &cfgErr)

	cfg := testConfig("AAPL")
	cfg.BatchSize = 0
	err = e.Initialize(context.Background(), cfg)
	assert.ErrorAs(t, err, &cfgErr)

	cfg = testConfig("AAPL")
	cfg.End = cfg.Start
	err = e.Initialize(context.Background(), cfg)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStartRequiresInitialize(t *testing.T) {
	e := NewEngine(&fakeSource{}, calendar.NewUSMarketCalendar(), nil)
	assert.Error(t, e.Start())
}
