// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"context"

	"maystream/marketval"
)

// BarLoader fetches a historical series from a venue.
type BarLoader func(ctx context.Context) ([]marketval.Bar, error)

// BarCache caches historical bar series per request key, so repeated
// backtests over the same window do not hit the venue again.
type BarCache interface {
	GetBars(ctx context.Context, key string, load BarLoader) ([]marketval.Bar, error)
}
