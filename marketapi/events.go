// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketapi

import (
	"log"
	"sync"
	"time"

	"maystream/marketval"
)

type EventKind string

const (
	EventConnected           EventKind = "CONNECTED"
	EventDisconnected        EventKind = "DISCONNECTED"
	EventError               EventKind = "ERROR"
	EventTrade               EventKind = "TRADE"
	EventQuote               EventKind = "QUOTE"
	EventBar                 EventKind = "BAR"
	EventOrderBook           EventKind = "ORDER_BOOK"
	EventSubscriptionChanged EventKind = "SUBSCRIPTION_CHANGED"
)

// Event is the unit published by providers and the router.
// Exactly one payload pointer is set for data events.
type Event struct {
	Kind     EventKind
	Provider marketval.ProviderId
	Symbol   string
	Quote    *marketval.Quote
	Trade    *marketval.Trade
	Bar      *marketval.Bar
	Book     *marketval.OrderBook
	Types    marketval.DataType
	Err      error
	Time     time.Time
}

type Handler func(Event)

type HandlerId uint64

// Topic builds a symbol scoped topic, so consumers can register for
// a single symbol without filtering the generic stream.
func Topic(kind EventKind, symbol string) string {
	return string(kind) + ":" + symbol
}

// Hub is an explicit typed publish/subscribe bus. Handlers run
// synchronously in publish order; a panicking handler is recovered
// and logged and never aborts delivery to the remaining handlers.
type Hub struct {
	mu       sync.Mutex
	nextId   HandlerId
	handlers map[string]map[HandlerId]Handler
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string]map[HandlerId]Handler)}
}

// Subscribe registers a handler for a generic event kind.
func (h *Hub) Subscribe(kind EventKind, handler Handler) HandlerId {
	return h.subscribeTopic(string(kind), handler)
}

// SubscribeSymbol registers a handler scoped to kind:symbol.
func (h *Hub) SubscribeSymbol(kind EventKind, symbol string, handler Handler) HandlerId {
	return h.subscribeTopic(Topic(kind, symbol), handler)
}

func (h *Hub) subscribeTopic(topic string, handler Handler) HandlerId {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextId++
	id := h.nextId
	m, exists := h.handlers[topic]
	if !exists {
		m = make(map[HandlerId]Handler)
		h.handlers[topic] = m
	}
	m[id] = handler
	return id
}

// Unsubscribe removes a handler previously registered for the kind.
func (h *Hub) Unsubscribe(kind EventKind, id HandlerId) {
	h.unsubscribeTopic(string(kind), id)
}

// UnsubscribeSymbol removes a symbol scoped handler.
func (h *Hub) UnsubscribeSymbol(kind EventKind, symbol string, id HandlerId) {
	h.unsubscribeTopic(Topic(kind, symbol), id)
}

func (h *Hub) unsubscribeTopic(topic string, id HandlerId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, exists := h.handlers[topic]; exists {
		delete(m, id)
		if len(m) == 0 {
			delete(h.handlers, topic)
		}
	}
}

// Publish delivers the event to the generic kind topic and, for events
// carrying a symbol, additionally to the kind:symbol topic.
func (h *Hub) Publish(e Event) {
	h.publishTopic(string(e.Kind), e)
	if e.Symbol != "" {
		h.publishTopic(Topic(e.Kind, e.Symbol), e)
	}
}

func (h *Hub) publishTopic(topic string, e Event) {
	h.mu.Lock()
	m := h.handlers[topic]
	handlers := make([]Handler, 0, len(m))
	for _, handler := range m {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		invoke(handler, e)
	}
}

func invoke(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler for %s panicked: %v", e.Kind, r)
		}
	}()
	handler(e)
}
