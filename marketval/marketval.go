// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketval

// ProviderId identifies a registered market data venue.
type ProviderId string

// For sorting
type ProviderList []ProviderId

func (x ProviderList) Len() int           { return len(x) }
func (x ProviderList) Less(i, j int) bool { return x[i] < x[j] }
func (x ProviderList) Swap(i, j int)      { x[i], x[j] = x[j], x[i] }

// DataType is a bit set of realtime data kinds a subscription may request.
type DataType uint8

const (
	DataTrades DataType = 1 << iota
	DataQuotes
	DataBars
	DataOrderBook
)

const DataAll = DataTrades | DataQuotes | DataBars | DataOrderBook

func (d DataType) Has(t DataType) bool {
	return d&t != 0
}

func (d DataType) With(t DataType) DataType {
	return d | t
}

func (d DataType) Without(t DataType) DataType {
	return d &^ t
}

type TradeSide int

const (
	TradeSideUnknown TradeSide = iota
	TradeSideBuy
	TradeSideSell
)
