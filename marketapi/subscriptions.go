// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"sync"

	"maystream/marketval"
)

// SubscriptionTable tracks the active data types per symbol.
// On reconnect the table is the single source for replaying
// subscriptions, so callers are never asked again.
type SubscriptionTable struct {
	mu   sync.Mutex
	subs map[string]marketval.DataType
}

func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{subs: make(map[string]marketval.DataType)}
}

// Add merges the types into the symbol's active set and reports
// which of them are newly requested.
func (t *SubscriptionTable) Add(symbol string, types marketval.DataType) (added marketval.DataType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.subs[symbol]
	added = types &^ current
	t.subs[symbol] = current | types
	return added
}

// Remove narrows the symbol's active set. With no types given the
// symbol is dropped entirely. It returns the remaining set.
func (t *SubscriptionTable) Remove(symbol string, types ...marketval.DataType) marketval.DataType {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, exists := t.subs[symbol]
	if !exists {
		return 0
	}
	if len(types) == 0 {
		delete(t.subs, symbol)
		return 0
	}
	for _, ty := range types {
		current = current.Without(ty)
	}
	if current == 0 {
		delete(t.subs, symbol)
	} else {
		t.subs[symbol] = current
	}
	return current
}

func (t *SubscriptionTable) Get(symbol string) marketval.DataType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subs[symbol]
}

// Snapshot copies the table for iteration outside the lock.
func (t *SubscriptionTable) Snapshot() map[string]marketval.DataType {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]marketval.DataType, len(t.subs))
	for symbol, types := range t.subs {
		snapshot[symbol] = types
	}
	return snapshot
}

func (t *SubscriptionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = make(map[string]marketval.DataType)
}
