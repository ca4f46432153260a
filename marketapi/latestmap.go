// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"github.com/zhangyunhao116/skipmap"

	"maystream/marketval"
)

// LatestMap caches the newest value per key, overwritten on every store.
// Entries never expire. A read is a point-in-time snapshot: the value
// may be replaced by a concurrent event the moment it is returned.
type LatestMap[T any] struct {
	sm *skipmap.StringMap[T]
}

func NewLatestMap[T any]() *LatestMap[T] {
	return &LatestMap[T]{sm: skipmap.NewString[T]()}
}

func (m *LatestMap[T]) Store(key string, value T) {
	m.sm.Store(key, value)
}

func (m *LatestMap[T]) Load(key string) (T, bool) {
	return m.sm.Load(key)
}

func (m *LatestMap[T]) Delete(key string) {
	m.sm.Delete(key)
}

func (m *LatestMap[T]) Range(f func(key string, value T) bool) {
	m.sm.Range(f)
}

// BarKey builds the (symbol, timeframe) cache key for bar caches.
func BarKey(symbol string, timeframe marketval.Timeframe) string {
	return symbol + "|" + timeframe.String()
}
