// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketval

import (
	"time"

	"github.com/ericlagergren/decimal"
)

// Quote is the latest bid/ask reading for a symbol.
type Quote struct {
	Symbol    string
	BidPrice  *decimal.Big
	BidSize   *decimal.Big
	AskPrice  *decimal.Big
	AskSize   *decimal.Big
	Timestamp time.Time
}

// Trade is a single executed trade.
type Trade struct {
	Symbol    string
	Price     *decimal.Big
	Size      *decimal.Big
	TradeId   string
	Side      TradeSide
	Timestamp time.Time
}

// Bar aggregates trades for a symbol over one timeframe interval.
type Bar struct {
	Symbol     string
	OpenPrice  *decimal.Big
	HighPrice  *decimal.Big
	LowPrice   *decimal.Big
	ClosePrice *decimal.Big
	Volume     *decimal.Big
	Timeframe  Timeframe
	Timestamp  time.Time
}

// BookLevel is one rung of an order book ladder.
type BookLevel struct {
	Price *decimal.Big
	Size  *decimal.Big
}

// OrderBook holds bid/ask ladders, best first.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// Trimmed returns a copy limited to the given depth per side.
// Depth <= 0 returns the book unchanged.
func (b OrderBook) Trimmed(depth int) OrderBook {
	if depth <= 0 {
		return b
	}
	trimmed := b
	if len(trimmed.Bids) > depth {
		trimmed.Bids = trimmed.Bids[:depth]
	}
	if len(trimmed.Asks) > depth {
		trimmed.Asks = trimmed.Asks[:depth]
	}
	return trimmed
}

// BarsRequest describes a historical range query.
type BarsRequest struct {
	Symbol    string
	Timeframe Timeframe
	FromTime  time.Time
	ToTime    time.Time
	Limit     int
	// Provider optionally pins the query to a specific venue when routed.
	Provider ProviderId
}
