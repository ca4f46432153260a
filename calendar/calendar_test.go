// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTradingDay(t *testing.T) {
	c := NewUSMarketCalendar()

	trading, _ := c.IsTradingDay(time.Date(2023, 6, 14, 0, 0, 0, 0, c.location))
	assert.True(t, trading)

	// weekend
	trading, _ = c.IsTradingDay(time.Date(2023, 6, 17, 0, 0, 0, 0, c.location))
	assert.False(t, trading)

	// Juneteenth
	trading, _ = c.IsTradingDay(time.Date(2023, 6, 19, 0, 0, 0, 0, c.location))
	assert.False(t, trading)

	// Christmas
	trading, _ = c.IsTradingDay(time.Date(2023, 12, 25, 0, 0, 0, 0, c.location))
	assert.False(t, trading)
}

func TestIsTradingDayPartial(t *testing.T) {
	c := NewUSMarketCalendar()

	// day before Independence Day
	trading, partial := c.IsTradingDay(time.Date(2023, 7, 3, 0, 0, 0, 0, c.location))
	assert.True(t, trading)
	assert.True(t, partial)

	// day after Thanksgiving
	trading, partial = c.IsTradingDay(time.Date(2023, 11, 24, 0, 0, 0, 0, c.location))
	assert.True(t, trading)
	assert.True(t, partial)

	trading, partial = c.IsTradingDay(time.Date(2023, 6, 14, 0, 0, 0, 0, c.location))
	assert.True(t, trading)
	assert.False(t, partial)
}

func TestSessionFor(t *testing.T) {
	c := NewUSMarketCalendar()

	s, ok := c.SessionFor(time.Date(2023, 6, 14, 12, 0, 0, 0, c.location))
	assert.True(t, ok)
	assert.Equal(t, time.Date(2023, 6, 14, 9, 30, 0, 0, c.location), s.Open)
	assert.Equal(t, time.Date(2023, 6, 14, 16, 0, 0, 0, c.location), s.Close)
	assert.Equal(t, time.Date(2023, 6, 14, 4, 0, 0, 0, c.location), s.PreOpen)
	assert.Equal(t, time.Date(2023, 6, 14, 20, 0, 0, 0, c.location), s.ExtClose)

	// partial day closes early
	s, ok = c.SessionFor(time.Date(2023, 7, 3, 12, 0, 0, 0, c.location))
	assert.True(t, ok)
	assert.Equal(t, time.Date(2023, 7, 3, 13, 0, 0, 0, c.location), s.Close)

	_, ok = c.SessionFor(time.Date(2023, 6, 17, 12, 0, 0, 0, c.location))
	assert.False(t, ok)
}

func TestIsRegularSession(t *testing.T) {
	c := NewUSMarketCalendar()

	assert.True(t, c.IsRegularSession(time.Date(2023, 6, 14, 9, 30, 0, 0, c.location)))
	assert.True(t, c.IsRegularSession(time.Date(2023, 6, 14, 15, 59, 59, 0, c.location)))
	// close is exclusive
	assert.False(t, c.IsRegularSession(time.Date(2023, 6, 14, 16, 0, 0, 0, c.location)))
	assert.False(t, c.IsRegularSession(time.Date(2023, 6, 14, 9, 29, 59, 0, c.location)))
	// holiday
	assert.False(t, c.IsRegularSession(time.Date(2023, 6, 19, 12, 0, 0, 0, c.location)))
}

func TestIsExtendedSession(t *testing.T) {
	c := NewUSMarketCalendar()

	assert.True(t, c.IsExtendedSession(time.Date(2023, 6, 14, 4, 0, 0, 0, c.location)))
	assert.True(t, c.IsExtendedSession(time.Date(2023, 6, 14, 19, 59, 0, 0, c.location)))
	assert.False(t, c.IsExtendedSession(time.Date(2023, 6, 14, 3, 59, 0, 0, c.location)))
	assert.False(t, c.IsExtendedSession(time.Date(2023, 6, 14, 20, 0, 0, 0, c.location)))
}

// DST transitions shift the UTC offset of the session bounds, the
// local trading band must stay fixed.
func TestSessionAcrossDstTransition(t *testing.T) {
	c := NewUSMarketCalendar()

	// 2023-03-12 is the EST->EDT switch; the following Monday trades 09:30-16:00 EDT.
	s, ok := c.SessionFor(time.Date(2023, 3, 13, 12, 0, 0, 0, c.location))
	assert.True(t, ok)
	assert.Equal(t, "EDT", s.Open.Format("MST"))

	// The Friday before is still EST.
	s, ok = c.SessionFor(time.Date(2023, 3, 10, 12, 0, 0, 0, c.location))
	assert.True(t, ok)
	assert.Equal(t, "EST", s.Open.Format("MST"))
}
