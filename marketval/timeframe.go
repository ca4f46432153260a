// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package marketval

import "time"

type Timeframe int32

const (
	TimeframeOneMinute Timeframe = iota
	TimeframeFiveMinutes
	TimeframeFifteenMinutes
	TimeframeThirtyMinutes
	TimeframeSixtyMinutes
	TimeframeOneDay
	TimeframeOneWeek
	TimeframeOneMonth
)

const NumTimeframes = TimeframeOneMonth + 1

func (t Timeframe) String() string {
	switch t {
	case TimeframeOneMinute:
		return "1Min"
	case TimeframeFiveMinutes:
		return "5Min"
	case TimeframeFifteenMinutes:
		return "15Min"
	case TimeframeThirtyMinutes:
		return "30Min"
	case TimeframeSixtyMinutes:
		return "1Hour"
	case TimeframeOneDay:
		return "1Day"
	case TimeframeOneWeek:
		return "1Week"
	case TimeframeOneMonth:
		return "1Month"
	default:
		panic("unsupported timeframe")
	}
}

// Intraday reports whether the timeframe is below one day.
// Only intraday series are subject to market hours filtering.
func (t Timeframe) Intraday() bool {
	return t < TimeframeOneDay
}

// Duration returns the interval length. Months and weeks use the
// duration at the given context time, because they are not constant.
func (t Timeframe) Duration(context time.Time) time.Duration {
	switch t {
	case TimeframeOneMinute:
		return time.Minute
	case TimeframeFiveMinutes:
		return time.Minute * 5
	case TimeframeFifteenMinutes:
		return time.Minute * 15
	case TimeframeThirtyMinutes:
		return time.Minute * 30
	case TimeframeSixtyMinutes:
		return time.Hour
	case TimeframeOneDay:
		y, m, d := context.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, context.Location()).Sub(
			time.Date(y, m, d, 0, 0, 0, 0, context.Location()))
	case TimeframeOneWeek:
		y, m, d := context.Date()
		s := time.Date(y, m, d, 0, 0, 0, 0, context.Location())
		return time.Date(y, m, d+7, 0, 0, 0, 0, context.Location()).Sub(s)
	case TimeframeOneMonth:
		y := context.Year()
		m := context.Month()
		s := time.Date(y, m, 1, 0, 0, 0, 0, context.Location())
		return time.Date(y, m+1, 1, 0, 0, 0, 0, context.Location()).Sub(s)
	default:
		panic("unsupported timeframe")
	}
}
