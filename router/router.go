// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"maystream/cache"
	"maystream/config"
	"maystream/marketapi"
	"maystream/marketval"
)

// forwardedKinds are republished from providers onto the router hub.
var forwardedKinds = []marketapi.EventKind{
	marketapi.EventConnected,
	marketapi.EventDisconnected,
	marketapi.EventError,
	marketapi.EventTrade,
	marketapi.EventQuote,
	marketapi.EventBar,
	marketapi.EventOrderBook,
	marketapi.EventSubscriptionChanged,
}

// Router multiplexes several venue adapters behind a single hub.
// Symbols gain an affinity to the provider that first subscribed them,
// so later calls without an explicit provider stay on the same venue.
type Router struct {
	mu        sync.Mutex
	providers map[marketval.ProviderId]marketapi.Provider
	forwards  map[marketval.ProviderId][]marketapi.HandlerId
	affinity  map[string]marketval.ProviderId
	defaultId marketval.ProviderId

	hub      *marketapi.Hub
	quotes   *marketapi.LatestMap[marketval.Quote]
	trades   *marketapi.LatestMap[marketval.Trade]
	bars     *marketapi.LatestMap[marketval.Bar]
	books    *marketapi.LatestMap[marketval.OrderBook]
	barCache cache.BarCache
}

func NewRouter(c config.Config, barCache cache.BarCache) (*Router, error) {
	appConfig, err := c.Copy()
	if err != nil {
		return nil, err
	}
	if barCache == nil {
		barCache = cache.NewPassthroughBarCache()
	}
	return &Router{
		providers: make(map[marketval.ProviderId]marketapi.Provider),
		forwards:  make(map[marketval.ProviderId][]marketapi.HandlerId),
		affinity:  make(map[string]marketval.ProviderId),
		defaultId: appConfig.DefaultProvider,
		hub:       marketapi.NewHub(),
		quotes:    marketapi.NewLatestMap[marketval.Quote](),
		trades:    marketapi.NewLatestMap[marketval.Trade](),
		bars:      marketapi.NewLatestMap[marketval.Bar](),
		books:     marketapi.NewLatestMap[marketval.OrderBook](),
		barCache:  barCache,
	}, nil
}

// Events exposes the merged event stream of all registered providers.
func (r *Router) Events() *marketapi.Hub {
	return r.hub
}

// Register adds a provider and starts forwarding its events.
func (r *Router) Register(p marketapi.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Id()
	if _, exists := r.providers[id]; exists {
		return &marketapi.ConfigurationError{Reason: fmt.Sprintf("provider %s is already registered", id)}
	}
	r.providers[id] = p
	hub := p.Events()
	var handlerIds []marketapi.HandlerId
	for _, kind := range forwardedKinds {
		handlerIds = append(handlerIds, hub.Subscribe(kind, r.forward))
	}
	r.forwards[id] = handlerIds
	return nil
}

// Unregister detaches and disconnects a provider. Affinities pointing
// at it are purged, so the symbols resolve freshly next time.
func (r *Router) Unregister(id marketval.ProviderId) error {
	r.mu.Lock()
	p, exists := r.providers[id]
	if !exists {
		r.mu.Unlock()
		return &marketapi.NotFoundError{Kind: "provider", Id: string(id)}
	}
	hub := p.Events()
	for i, handlerId := range r.forwards[id] {
		hub.Unsubscribe(forwardedKinds[i], handlerId)
	}
	delete(r.forwards, id)
	delete(r.providers, id)
	for symbol, provider := range r.affinity {
		if provider == id {
			delete(r.affinity, symbol)
		}
	}
	r.mu.Unlock()

	return p.Disconnect()
}

// Providers lists the registered provider ids in stable order.
func (r *Router) Providers() marketval.ProviderList {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := marketval.ProviderList(maps.Keys(r.providers))
	sort.Sort(list)
	return list
}

func (r *Router) Status(id marketval.ProviderId) (marketapi.ConnState, error) {
	p, err := r.provider(id)
	if err != nil {
		return marketapi.StateDisconnected, err
	}
	return p.Status(), nil
}

// forward republishes a provider event and keeps the router caches in
// sync with the stream.
func (r *Router) forward(e marketapi.Event) {
	switch e.Kind {
	case marketapi.EventQuote:
		if e.Quote != nil {
			r.quotes.Store(e.Symbol, *e.Quote)
		}
	case marketapi.EventTrade:
		if e.Trade != nil {
			r.trades.Store(e.Symbol, *e.Trade)
		}
	case marketapi.EventBar:
		if e.Bar != nil {
			r.bars.Store(marketapi.BarKey(e.Symbol, e.Bar.Timeframe), *e.Bar)
		}
	case marketapi.EventOrderBook:
		if e.Book != nil {
			r.books.Store(e.Symbol, *e.Book)
		}
	}
	r.hub.Publish(e)
}

func (r *Router) provider(id marketval.ProviderId) (marketapi.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.providers[id]
	if !exists {
		return nil, &marketapi.NotFoundError{Kind: "provider", Id: string(id)}
	}
	return p, nil
}

// resolve picks the provider for a symbol: an explicit id wins, then
// the symbol's affinity, then the configured default.
func (r *Router) resolve(symbol string, explicit marketval.ProviderId) (marketapi.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := explicit
	if id == "" {
		id = r.affinity[symbol]
	}
	if id == "" {
		id = r.defaultId
	}
	if id == "" {
		return nil, marketapi.ErrNoDefaultProvider
	}
	p, exists := r.providers[id]
	if !exists {
		return nil, &marketapi.NotFoundError{Kind: "provider", Id: string(id)}
	}
	return p, nil
}

// Subscribe routes a realtime subscription and records the symbol's
// provider affinity on success.
func (r *Router) Subscribe(ctx context.Context, symbol string, types marketval.DataType, provider marketval.ProviderId) error {
	p, err := r.resolve(symbol, provider)
	if err != nil {
		return err
	}
	if err = p.Subscribe(ctx, symbol, types); err != nil {
		return err
	}
	r.mu.Lock()
	r.affinity[symbol] = p.Id()
	r.mu.Unlock()
	return nil
}

// Unsubscribe narrows or removes the symbol's subscription. Once no
// data type remains active the affinity is dropped, so a later
// subscribe resolves freshly instead of sticking to the old venue.
func (r *Router) Unsubscribe(ctx context.Context, symbol string, types ...marketval.DataType) error {
	p, err := r.resolve(symbol, "")
	if err != nil {
		return err
	}
	remaining, err := p.Unsubscribe(ctx, symbol, types...)
	if err != nil {
		return err
	}
	if remaining == 0 {
		r.mu.Lock()
		delete(r.affinity, symbol)
		r.mu.Unlock()
	}
	return nil
}

func (r *Router) Quote(ctx context.Context, symbol string) (marketval.Quote, error) {
	if q, exists := r.quotes.Load(symbol); exists {
		return q, nil
	}
	p, err := r.resolve(symbol, "")
	if err != nil {
		return marketval.Quote{}, err
	}
	q, err := p.Quote(ctx, symbol)
	if err != nil {
		return marketval.Quote{}, err
	}
	r.quotes.Store(symbol, q)
	return q, nil
}

func (r *Router) Trade(ctx context.Context, symbol string) (marketval.Trade, error) {
	if t, exists := r.trades.Load(symbol); exists {
		return t, nil
	}
	p, err := r.resolve(symbol, "")
	if err != nil {
		return marketval.Trade{}, err
	}
	t, err := p.Trade(ctx, symbol)
	if err != nil {
		return marketval.Trade{}, err
	}
	r.trades.Store(symbol, t)
	return t, nil
}

func (r *Router) OrderBook(ctx context.Context, symbol string, depth int) (marketval.OrderBook, error) {
	if b, exists := r.books.Load(symbol); exists {
		return b.Trimmed(depth), nil
	}
	p, err := r.resolve(symbol, "")
	if err != nil {
		return marketval.OrderBook{}, err
	}
	b, err := p.OrderBook(ctx, symbol, depth)
	if err != nil {
		return marketval.OrderBook{}, err
	}
	r.books.Store(symbol, b)
	return b, nil
}

func barCacheKey(id marketval.ProviderId, req marketval.BarsRequest) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		id, req.Symbol, req.Timeframe, req.FromTime.Unix(), req.ToTime.Unix(), req.Limit)
}

// HistoricalBars routes a range query through the bar cache.
func (r *Router) HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error) {
	p, err := r.resolve(req.Symbol, req.Provider)
	if err != nil {
		return nil, err
	}
	return r.barCache.GetBars(ctx, barCacheKey(p.Id(), req), func(ctx context.Context) ([]marketval.Bar, error) {
		return p.HistoricalBars(ctx, req)
	})
}

// ConnectAll connects every registered provider, collecting failures
// instead of stopping at the first one.
func (r *Router) ConnectAll(ctx context.Context) error {
	var firstErr error
	for _, id := range r.Providers() {
		p, err := r.provider(id)
		if err != nil {
			continue
		}
		if err = p.Connect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DisconnectAll disconnects every registered provider.
func (r *Router) DisconnectAll() {
	for _, id := range r.Providers() {
		p, err := r.provider(id)
		if err != nil {
			continue
		}
		if err = p.Disconnect(); err != nil {
			r.hub.Publish(marketapi.Event{Kind: marketapi.EventError, Provider: id, Err: err, Time: time.Now()})
		}
	}
}
