package limits

import (
	"fmt"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/storage"
)

// Cache keys follow `{scope}:{id}:{window}`. The window segment is part
// of the public cache contract and must be preserved bit-for-bit if the
// store implementation ever changes:
//
//   - fixed daily windows embed the reset time as `cost_daily_{HHmm}`
//     (colon stripped), so entities with differing reset times sharing
//     one cache never collide;
//   - rolling windows use the literal `cost_daily_rolling` and
//     `cost_5h_rolling`;
//   - weekly and monthly windows (`cost_weekly`, `cost_monthly`) carry
//     no reset-time suffix.

const (
	window5h  = 18000000 * time.Millisecond
	window24h = 86400000 * time.Millisecond

	// windowBackstopTTL bounds rolling-window sets against leaks when
	// an entity goes quiet.
	windowBackstopTTL = 25 * time.Hour

	// rpmWindow is the sliding window behind per-user request-rate
	// checks.
	rpmWindow = time.Minute
)

func costKey(scope storage.Scope, id string, limit CostLimit) string {
	return fmt.Sprintf("%s:%s:%s", scope, id, windowSegment(limit))
}

func windowSegment(limit CostLimit) string {
	switch limit.Period {
	case Period5h:
		return "cost_5h_rolling"
	case PeriodDaily:
		if limit.ResetMode == ResetFixed {
			return "cost_daily_" + strings.ReplaceAll(resetTimeOrDefault(limit.ResetTime), ":", "")
		}
		return "cost_daily_rolling"
	case PeriodWeekly:
		return "cost_weekly"
	case PeriodMonthly:
		return "cost_monthly"
	default:
		return "cost_" + string(limit.Period)
	}
}

func rpmKey(userID string) string {
	return fmt.Sprintf("%s:%s:rpm", storage.ScopeUser, userID)
}

func resetTimeOrDefault(resetTime string) string {
	if resetTime == "" {
		return "00:00"
	}
	return resetTime
}

// rolling reports whether the limit uses a sliding window.
func (l CostLimit) rolling() bool {
	switch l.Period {
	case Period5h:
		return true
	case PeriodDaily:
		return l.ResetMode != ResetFixed
	default:
		// weekly and monthly are always calendar-aligned
		return false
	}
}

// windowSize returns the span of a rolling limit.
func (l CostLimit) windowSize() time.Duration {
	if l.Period == Period5h {
		return window5h
	}
	return window24h
}

// windowStart returns the start of a fixed limit's current window.
func (l CostLimit) windowStart(now time.Time) time.Time {
	switch l.Period {
	case PeriodWeekly:
		// Monday 00:00.
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		offset := (int(now.Weekday()) + 6) % 7
		return start.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		// Fixed daily: the most recent reset instant.
		hh, mm := parseResetTime(resetTimeOrDefault(l.ResetTime))
		reset := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if reset.After(now) {
			reset = reset.AddDate(0, 0, -1)
		}
		return reset
	}
}

// windowEnd returns the next reset instant of a fixed limit.
func (l CostLimit) windowEnd(now time.Time) time.Time {
	start := l.windowStart(now)
	switch l.Period {
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func parseResetTime(s string) (hh, mm int) {
	fmt.Sscanf(s, "%d:%d", &hh, &mm)
	if hh < 0 || hh > 23 {
		hh = 0
	}
	if mm < 0 || mm > 59 {
		mm = 0
	}
	return hh, mm
}
