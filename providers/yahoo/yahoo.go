// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package yahoo

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"maystream/config"
	"maystream/marketapi"
	"maystream/marketval"
)

// quoteFetch allows replacing the venue call in unit tests.
type quoteFetch func(symbol string) (*finance.Quote, error)

// yahooProvider serves delayed data by polling. There is no streaming
// session; Connect only arms the poll loop root context.
type yahooProvider struct {
	hub    *marketapi.Hub
	state  *marketapi.ConnTracker
	subs   *marketapi.SubscriptionTable
	quotes *marketapi.LatestMap[marketval.Quote]
	trades *marketapi.LatestMap[marketval.Trade]
	cfg    config.ProviderConfig
	fetch  quoteFetch

	mu      sync.Mutex
	rootCtx context.Context
	cancel  context.CancelFunc
	pollers map[string]context.CancelFunc
}

func NewProvider() marketapi.Provider {
	return newProvider(fetchQuote)
}

func newProvider(fetch quoteFetch) *yahooProvider {
	return &yahooProvider{
		hub:     marketapi.NewHub(),
		state:   marketapi.NewConnTracker(),
		subs:    marketapi.NewSubscriptionTable(),
		quotes:  marketapi.NewLatestMap[marketval.Quote](),
		trades:  marketapi.NewLatestMap[marketval.Trade](),
		fetch:   fetch,
		pollers: make(map[string]context.CancelFunc),
	}
}

func GetProviderId() marketval.ProviderId {
	return "yahoo"
}

func (p *yahooProvider) Id() marketval.ProviderId {
	return GetProviderId()
}

func (p *yahooProvider) Capabilities() marketapi.Capabilities {
	return marketapi.Capabilities{}
}

func (p *yahooProvider) ReadConfig(c config.Config) error {
	appConfig, err := c.Copy()
	if err != nil {
		return err
	}
	p.cfg = appConfig.ProviderConfig[GetProviderId()]
	if p.cfg.PollIntervalSeconds <= 0 {
		return &marketapi.ConfigurationError{Reason: "yahoo poll interval must be positive"}
	}
	return nil
}

func (p *yahooProvider) Events() *marketapi.Hub {
	return p.hub
}

func (p *yahooProvider) Status() marketapi.ConnState {
	return p.state.State()
}

func (p *yahooProvider) Connect(ctx context.Context) error {
	if err := p.state.Transition(marketapi.StateConnecting); err != nil {
		return err
	}
	p.mu.Lock()
	p.rootCtx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()
	_ = p.state.Transition(marketapi.StateConnected)
	p.hub.Publish(marketapi.Event{Kind: marketapi.EventConnected, Provider: p.Id(), Time: time.Now()})
	return nil
}

func (p *yahooProvider) Disconnect() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.pollers = make(map[string]context.CancelFunc)
	p.mu.Unlock()
	p.subs.Clear()
	if p.state.State() != marketapi.StateDisconnected {
		_ = p.state.Transition(marketapi.StateDisconnected)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventDisconnected, Provider: p.Id(), Time: time.Now()})
	}
	return nil
}

func (p *yahooProvider) Subscribe(ctx context.Context, symbol string, types marketval.DataType) error {
	if !p.state.Is(marketapi.StateConnected) {
		return marketapi.ErrNotConnected
	}
	if types.Without(marketval.DataQuotes) != 0 {
		return &marketapi.SubscriptionError{Provider: p.Id(), Symbol: symbol, Err: marketapi.ErrUnsupportedData}
	}
	added := p.subs.Add(symbol, types)
	if added == 0 {
		return nil
	}

	p.mu.Lock()
	if _, exists := p.pollers[symbol]; !exists && p.rootCtx != nil {
		pollCtx, cancel := context.WithCancel(p.rootCtx)
		p.pollers[symbol] = cancel
		go p.poll(pollCtx, symbol)
	}
	p.mu.Unlock()

	p.hub.Publish(marketapi.Event{
		Kind:     marketapi.EventSubscriptionChanged,
		Provider: p.Id(),
		Symbol:   symbol,
		Types:    p.subs.Get(symbol),
		Time:     time.Now(),
	})
	return nil
}

func (p *yahooProvider) Unsubscribe(ctx context.Context, symbol string, types ...marketval.DataType) (marketval.DataType, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return 0, marketapi.ErrNotConnected
	}
	remaining := p.subs.Remove(symbol, types...)
	if remaining == 0 {
		p.mu.Lock()
		if cancel, exists := p.pollers[symbol]; exists {
			cancel()
			delete(p.pollers, symbol)
		}
		p.mu.Unlock()
	}
	p.hub.Publish(marketapi.Event{
		Kind:     marketapi.EventSubscriptionChanged,
		Provider: p.Id(),
		Symbol:   symbol,
		Types:    remaining,
		Time:     time.Now(),
	})
	return remaining, nil
}

// poll publishes a QUOTE event per interval, skipping readings whose
// venue timestamp did not advance.
func (p *yahooProvider) poll(ctx context.Context, symbol string) {
	ticker := time.NewTicker(time.Second * time.Duration(p.cfg.PollIntervalSeconds))
	defer ticker.Stop()
	var lastTimestamp time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q, err := p.queryQuote(symbol)
			if err != nil {
				log.Printf("yahoo poll for %s failed: %v", symbol, err)
				continue
			}
			if !q.Timestamp.After(lastTimestamp) {
				continue
			}
			lastTimestamp = q.Timestamp
			p.hub.Publish(marketapi.Event{Kind: marketapi.EventQuote, Provider: p.Id(), Symbol: symbol, Quote: &q, Time: q.Timestamp})
		}
	}
}

func fetchQuote(symbol string) (*finance.Quote, error) {
	// piquette uses package level state, no context support.
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, &marketapi.NotFoundError{Kind: "symbol", Id: symbol}
	}
	return q, nil
}

func bigFromFloat(f float64) *decimal.Big {
	var b decimal.Big
	b.SetFloat64(f)
	return &b
}

func bigFromInt(i int) *decimal.Big {
	return decimal.New(int64(i), 0)
}

func (p *yahooProvider) queryQuote(symbol string) (marketval.Quote, error) {
	fq, err := p.fetch(symbol)
	if err != nil {
		return marketval.Quote{}, err
	}
	q := marketval.Quote{
		Symbol:    symbol,
		BidPrice:  bigFromFloat(fq.Bid),
		BidSize:   bigFromInt(fq.BidSize),
		AskPrice:  bigFromFloat(fq.Ask),
		AskSize:   bigFromInt(fq.AskSize),
		Timestamp: time.Unix(int64(fq.RegularMarketTime), 0).UTC(),
	}
	p.quotes.Store(symbol, q)
	return q, nil
}

func (p *yahooProvider) Quote(ctx context.Context, symbol string) (marketval.Quote, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return marketval.Quote{}, marketapi.ErrNotConnected
	}
	if q, exists := p.quotes.Load(symbol); exists {
		return q, nil
	}
	return p.queryQuote(symbol)
}

// Trade reports the regular market price as the most recent execution,
// which is the closest this venue offers to trade data.
func (p *yahooProvider) Trade(ctx context.Context, symbol string) (marketval.Trade, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return marketval.Trade{}, marketapi.ErrNotConnected
	}
	if t, exists := p.trades.Load(symbol); exists {
		return t, nil
	}
	fq, err := p.fetch(symbol)
	if err != nil {
		return marketval.Trade{}, err
	}
	t := marketval.Trade{
		Symbol:    symbol,
		Price:     bigFromFloat(fq.RegularMarketPrice),
		Size:      bigFromInt(fq.RegularMarketVolume),
		Timestamp: time.Unix(int64(fq.RegularMarketTime), 0).UTC(),
	}
	p.trades.Store(symbol, t)
	return t, nil
}

func (p *yahooProvider) OrderBook(ctx context.Context, symbol string, depth int) (marketval.OrderBook, error) {
	q, err := p.Quote(ctx, symbol)
	if err != nil {
		return marketval.OrderBook{}, err
	}
	book := marketval.OrderBook{
		Symbol:    symbol,
		Timestamp: q.Timestamp,
		Bids:      []marketval.BookLevel{{Price: q.BidPrice, Size: q.BidSize}},
		Asks:      []marketval.BookLevel{{Price: q.AskPrice, Size: q.AskSize}},
	}
	return book.Trimmed(depth), nil
}

func getInterval(t marketval.Timeframe) (datetime.Interval, error) {
	switch t {
	case marketval.TimeframeOneMinute:
		return datetime.OneMin, nil
	case marketval.TimeframeFiveMinutes:
		return datetime.FiveMins, nil
	case marketval.TimeframeFifteenMinutes:
		return datetime.FifteenMins, nil
	case marketval.TimeframeThirtyMinutes:
		return datetime.ThirtyMins, nil
	case marketval.TimeframeSixtyMinutes:
		return datetime.OneHour, nil
	case marketval.TimeframeOneDay:
		return datetime.OneDay, nil
	case marketval.TimeframeOneMonth:
		return datetime.OneMonth, nil
	default:
		return "", fmt.Errorf("timeframe %s is not supported by this venue", t)
	}
}

func (p *yahooProvider) HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return nil, marketapi.ErrNotConnected
	}
	interval, err := getInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}
	iter := chart.Get(&chart.Params{
		Symbol:   req.Symbol,
		Start:    datetime.New(&req.FromTime),
		End:      datetime.New(&req.ToTime),
		Interval: interval,
	})

	var data []marketval.Bar
	for iter.Next() {
		b := iter.Bar()
		bar := marketval.Bar{
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
			Volume:    bigFromInt(b.Volume),
		}
		// The chart endpoint serializes prices as strings, so no
		// precision is lost converting between decimal types.
		bar.OpenPrice, _ = new(decimal.Big).SetString(b.Open.String())
		bar.HighPrice, _ = new(decimal.Big).SetString(b.High.String())
		bar.LowPrice, _ = new(decimal.Big).SetString(b.Low.String())
		bar.ClosePrice, _ = new(decimal.Big).SetString(b.Close.String())
		data = append(data, bar)
		if req.Limit > 0 && len(data) >= req.Limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return data, nil
}
