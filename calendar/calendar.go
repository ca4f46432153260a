// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package calendar

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// Session holds the trading time band of a single day.
type Session struct {
	PreOpen  time.Time
	Open     time.Time
	Close    time.Time
	ExtClose time.Time
}

type marketTime struct {
	hours   int
	minutes int
}

// MarketCalendar answers market hours questions against a real
// business calendar, so daylight saving transitions and holidays
// are handled correctly.
type MarketCalendar struct {
	location         *time.Location
	calendar         *cal.BusinessCalendar
	stdOpenTime      marketTime
	stdCloseTime     marketTime
	partialCloseTime marketTime
	extBeforeOpen    time.Duration
	extAfterClose    time.Duration
}

func NewUSMarketCalendar() MarketCalendar {
	// NYSE uses ET, which can be either EST or EDT.
	// Luckily, changing to/from daylight saving time does not occur during market hours.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("NYSE time location not supported")
	}
	c := cal.NewBusinessCalendar()
	// Source for bank holidays: https://www.federalreserve.gov/aboutthefed/k8.htm
	c.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.PresidentsDay,
		us.MemorialDay,
		us.Juneteenth,
		us.IndependenceDay,
		us.LaborDay,
		us.ColumbusDay,
		us.VeteransDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
	)
	c.Cacheable = true
	return MarketCalendar{
		location:         loc,
		calendar:         c,
		stdOpenTime:      marketTime{hours: 9, minutes: 30},
		stdCloseTime:     marketTime{hours: 16, minutes: 0},
		partialCloseTime: marketTime{hours: 13, minutes: 0},
		extBeforeOpen:    time.Hour*5 + time.Minute*30,
		extAfterClose:    time.Hour * 4,
	}
}

// IsTradingDay reports whether the market opens at all on the given
// day, and whether it closes early.
func (m MarketCalendar) IsTradingDay(t time.Time) (trading bool, partial bool) {
	day := t.In(m.location)
	trading = m.calendar.IsWorkday(day)
	if !trading {
		return
	}
	// There are partial trading days before independence day and christmas,
	// and after thanksgiving.
	if holiday, name := m.isHoliday(day.AddDate(0, 0, 1)); holiday &&
		(name == us.IndependenceDay.Name || name == us.ChristmasDay.Name) {
		partial = true
	} else if holiday, name := m.isHoliday(day.AddDate(0, 0, -1)); holiday && name == us.ThanksgivingDay.Name {
		partial = true
	}
	return
}

func (m MarketCalendar) isHoliday(t time.Time) (bool, string) {
	actual, observed, h := m.calendar.IsHoliday(t.In(m.location))
	if !actual && !observed {
		return false, ""
	}
	return true, h.Name
}

// SessionFor returns the trading band of the day containing t.
// ok is false on weekends and holidays.
func (m MarketCalendar) SessionFor(t time.Time) (s Session, ok bool) {
	day := t.In(m.location)
	trading, partial := m.IsTradingDay(day)
	if !trading {
		return Session{}, false
	}
	y, mo, d := day.Date()
	s.Open = time.Date(y, mo, d, m.stdOpenTime.hours, m.stdOpenTime.minutes, 0, 0, m.location)
	if partial {
		s.Close = time.Date(y, mo, d, m.partialCloseTime.hours, m.partialCloseTime.minutes, 0, 0, m.location)
	} else {
		s.Close = time.Date(y, mo, d, m.stdCloseTime.hours, m.stdCloseTime.minutes, 0, 0, m.location)
	}
	s.PreOpen = s.Open.Add(-m.extBeforeOpen)
	s.ExtClose = s.Close.Add(m.extAfterClose)
	return s, true
}

// IsRegularSession reports whether t falls into regular trading hours.
// The open is inclusive, the close exclusive.
func (m MarketCalendar) IsRegularSession(t time.Time) bool {
	s, ok := m.SessionFor(t)
	if !ok {
		return false
	}
	return !t.Before(s.Open) && t.Before(s.Close)
}

// IsExtendedSession reports whether t falls into the extended band
// including pre-market and after-hours trading.
func (m MarketCalendar) IsExtendedSession(t time.Time) bool {
	s, ok := m.SessionFor(t)
	if !ok {
		return false
	}
	return !t.Before(s.PreOpen) && t.Before(s.ExtClose)
}
