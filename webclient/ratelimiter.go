// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package webclient

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Simple window rate limiter (client side) which optionally considers
// http headers. Market data venues reset their budget at fixed wall
// clock intervals, not via a continuously refilling token bucket.
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	count       int
	interval    time.Duration
	windowStart time.Time
}

const MinWaitTime = time.Millisecond * 250

// Create a rate limiter to be initialized by http headers.
// Call HandleResponseHeadersWithWait after every response.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Manually initialize the limiter with a fixed budget per interval.
func NewManualRateLimiter(interval time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		interval: interval,
	}
}

// Wait blocks until a request slot is available.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		if l.tryAcquire() {
			return nil
		}
		// too many requests, need to wait
		// poll every MinWaitTime
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(MinWaitTime):
		}
	}
}

func (l *RateLimiter) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == 0 {
		return true // no limitation
	}
	now := time.Now()
	if l.interval > 0 && !l.windowStart.IsZero() && now.Sub(l.windowStart) >= l.interval {
		l.windowStart = now
		l.count = 0
	}
	if l.windowStart.IsZero() {
		l.windowStart = now
	}
	if l.count < l.limit {
		l.count++
		return true
	}
	return false
}

// Return the remaining count or max int if not limited.
func (l *RateLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == 0 {
		return math.MaxInt
	}
	remaining := l.limit - l.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// HandleResponseHeadersWithWait initializes the limiter from rate limit
// response headers and enforces a delay on 429 replies. It reports
// whether the request should be retried.
func (l *RateLimiter) HandleResponseHeadersWithWait(ctx context.Context, resp *http.Response) (retry bool, err error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(MinWaitTime): // enforce some delay if the server complains
			return true, nil
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit != 0 {
		return false, nil
	}
	limit, parseErr := strconv.Atoi(resp.Header.Get("x-ratelimit-limit"))
	if parseErr != nil {
		limit, parseErr = strconv.Atoi(resp.Header.Get("ratelimit-limit"))
	}
	if parseErr != nil || limit <= 0 {
		return false, nil
	}
	interval := time.Minute // default rate limit reset interval
	// use custom interval from header if provided.
	if resetUnixTime, err := strconv.ParseInt(resp.Header.Get("x-ratelimit-reset"), 10, 64); err == nil && resetUnixTime > 0 {
		if timeDiff := time.Until(time.Unix(resetUnixTime, 0)).Round(time.Second * 10); timeDiff > 0 {
			interval = timeDiff
		}
	} else if resetRemainingSeconds, err := strconv.Atoi(resp.Header.Get("ratelimit-reset")); err == nil && resetRemainingSeconds > 0 {
		interval = time.Second * time.Duration(resetRemainingSeconds)
	}
	l.limit = limit
	l.interval = interval
	l.windowStart = time.Now()
	l.count = 1 // this response already consumed one slot
	return false, nil
}
