// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"context"

	"maystream/config"
	"maystream/marketval"
)

// Capabilities describes what a venue adapter can serve.
type Capabilities struct {
	Streaming      bool
	OrderBook      bool
	PaperEndpoints bool
}

// Provider is the capability contract every venue adapter satisfies.
//
// Point queries are cache-first: a cached value is returned when present,
// otherwise the venue is queried and the cache populated. Cached values
// are snapshots; they never expire except by overwrite.
type Provider interface {
	Id() marketval.ProviderId
	Capabilities() Capabilities

	// ReadConfig initializes the adapter from the application config.
	// It must be called before Connect.
	ReadConfig(c config.Config) error

	Connect(ctx context.Context) error
	Disconnect() error
	Status() ConnState

	// Subscribe requests realtime delivery of the given data types.
	// Rejected unless the adapter is CONNECTED.
	Subscribe(ctx context.Context, symbol string, types marketval.DataType) error
	// Unsubscribe narrows the active set; with no types given the
	// symbol subscription is removed entirely. It returns the set
	// that remains active for the symbol.
	Unsubscribe(ctx context.Context, symbol string, types ...marketval.DataType) (marketval.DataType, error)

	HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error)

	Quote(ctx context.Context, symbol string) (marketval.Quote, error)
	Trade(ctx context.Context, symbol string) (marketval.Trade, error)
	OrderBook(ctx context.Context, symbol string, depth int) (marketval.OrderBook, error)

	// Events exposes the adapter's typed event bus.
	Events() *Hub
}
