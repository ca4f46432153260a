// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package yahoo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/piquette/finance-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maystream/config"
	"maystream/marketapi"
	"maystream/marketval"
)

const testSymbol = "AAPL"

func newYahooConfig() config.Config {
	c := config.NewTestConfig()
	appConfig, _ := c.Lock()
	providerConfig := appConfig.ProviderConfig[GetProviderId()]
	providerConfig.PollIntervalSeconds = 1
	appConfig.ProviderConfig[GetProviderId()] = providerConfig
	_ = c.Unlock(appConfig)
	return c
}

func staticQuote(marketTime int) quoteFetch {
	return func(symbol string) (*finance.Quote, error) {
		return &finance.Quote{
			Bid:                 125.60,
			BidSize:             4,
			Ask:                 125.68,
			AskSize:             12,
			RegularMarketPrice:  125.64,
			RegularMarketVolume: 396,
			RegularMarketTime:   marketTime,
		}, nil
	}
}

func TestConnectLifecycle(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	assert.Equal(t, marketapi.StateDisconnected, p.Status())

	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, marketapi.StateConnected, p.Status())

	require.NoError(t, p.Disconnect())
	assert.Equal(t, marketapi.StateDisconnected, p.Status())
}

func TestQueryQuote(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	q, err := p.Quote(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, testSymbol, q.Symbol)
	assert.Equal(t, 0, decimal.New(1256, 1).CmpTotal(q.BidPrice))
	assert.Equal(t, 0, decimal.New(12568, 2).CmpTotal(q.AskPrice))
	assert.Equal(t, time.Unix(1664712905, 0).UTC(), q.Timestamp)
}

func TestQueryTradeIsCached(t *testing.T) {
	var fetches atomic.Int64
	fetch := func(symbol string) (*finance.Quote, error) {
		fetches.Add(1)
		return staticQuote(1664712905)(symbol)
	}
	p := newProvider(fetch)
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	tr, err := p.Trade(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, testSymbol, tr.Symbol)
	assert.Equal(t, 0, decimal.New(12564, 2).CmpTotal(tr.Price))
	assert.Equal(t, 0, decimal.New(396, 0).CmpTotal(tr.Size))
	require.EqualValues(t, 1, fetches.Load())

	// The second query is served from the cache.
	cached, err := p.Trade(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Price.CmpTotal(cached.Price))
	assert.EqualValues(t, 1, fetches.Load())
}

func TestQueryQuoteRequiresConnection(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	_, err := p.Quote(context.Background(), testSymbol)
	assert.ErrorIs(t, err, marketapi.ErrNotConnected)
}

func TestSubscribeUnsupportedTypes(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	err := p.Subscribe(context.Background(), testSymbol, marketval.DataTrades)
	assert.ErrorIs(t, err, marketapi.ErrUnsupportedData)
	err = p.Subscribe(context.Background(), testSymbol, marketval.DataOrderBook)
	assert.ErrorIs(t, err, marketapi.ErrUnsupportedData)
}

func TestPollSkipsStaleReadings(t *testing.T) {
	var marketTime atomic.Int64
	marketTime.Store(1664712905)
	fetch := func(symbol string) (*finance.Quote, error) {
		return &finance.Quote{
			Bid:               125.60,
			Ask:               125.68,
			RegularMarketTime: int(marketTime.Load()),
		}, nil
	}

	p := newProvider(fetch)
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	events := make(chan marketapi.Event, 16)
	p.Events().SubscribeSymbol(marketapi.EventQuote, testSymbol, func(e marketapi.Event) {
		events <- e
	})
	require.NoError(t, p.Subscribe(context.Background(), testSymbol, marketval.DataQuotes))

	// First poll publishes, following polls with the same venue
	// timestamp do not.
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first quote event")
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event for stale reading: %+v", e)
	case <-time.After(1500 * time.Millisecond):
	}

	// Advancing the venue timestamp publishes again.
	marketTime.Store(1664712965)
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for refreshed quote event")
	}
}

func TestUnsubscribeStopsPolling(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	require.NoError(t, p.Subscribe(context.Background(), testSymbol, marketval.DataQuotes))
	remaining, err := p.Unsubscribe(context.Background(), testSymbol)
	require.NoError(t, err)
	assert.Equal(t, marketval.DataType(0), remaining)

	p.mu.Lock()
	_, exists := p.pollers[testSymbol]
	p.mu.Unlock()
	assert.False(t, exists)
	assert.Equal(t, marketval.DataType(0), p.subs.Get(testSymbol))
}

func TestHistoricalBarsUnsupportedTimeframe(t *testing.T) {
	p := newProvider(staticQuote(1664712905))
	require.NoError(t, p.ReadConfig(newYahooConfig()))
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	_, err := p.HistoricalBars(context.Background(), marketval.BarsRequest{
		Symbol:    testSymbol,
		Timeframe: marketval.TimeframeOneWeek,
	})
	assert.Error(t, err)
}
