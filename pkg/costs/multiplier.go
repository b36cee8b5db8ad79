package costs

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mercator-hq/ganymede/internal/glob"
)

// RuleType identifies what a cost rule matches on.
type RuleType string

const (
	// RuleTypeModel matches the requested model against a glob pattern.
	RuleTypeModel RuleType = "model"

	// RuleTypeTimePeriod matches the request's local time against
	// configured daily windows.
	RuleTypeTimePeriod RuleType = "time_period"
)

// Strategy defines how multiple matched rules combine.
type Strategy string

const (
	// StrategyHighestPriority applies only the matched rule with the
	// greatest priority value.
	StrategyHighestPriority Strategy = "highest_priority"

	// StrategyMultiply applies the product of all matched rules'
	// multipliers.
	StrategyMultiply Strategy = "multiply"
)

// maxMultiplier is the upper bound a single rule's multiplier is clamped to.
const maxMultiplier = 100.0

// TimePeriod is one daily window a time_period rule matches.
// StartTime is inclusive, EndTime exclusive, both "HH:mm". When EndTime is
// before StartTime the window wraps past midnight. An empty Weekdays list
// means every day; otherwise days use ISO numbering (1=Monday .. 7=Sunday).
type TimePeriod struct {
	StartTime string `json:"startTime" yaml:"start_time"`
	EndTime   string `json:"endTime" yaml:"end_time"`
	Weekdays  []int  `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
}

// Rule is a provider cost rule. Rules are owned by the administration
// layer; the engine only reads them.
type Rule struct {
	ID           int64
	ProviderID   int64
	RuleType     RuleType
	Multiplier   float64
	Priority     int
	ModelPattern string       // required for RuleTypeModel; glob with * and ?
	TimePeriods  []TimePeriod // required for RuleTypeTimePeriod
	IsEnabled    bool
}

// Context carries the request attributes rules match against.
type Context struct {
	// Model is the requested model name (matched case-insensitively).
	Model string

	// RequestTime is when the request was made.
	RequestTime time.Time

	// Timezone is the IANA zone time-period rules evaluate in.
	// Invalid or empty zones fall back to UTC.
	Timezone string
}

// Calculate returns baseMultiplier scaled by the matched rules' combined
// factor. It is a pure function of its inputs: disabled rules are skipped,
// malformed periods and invalid timezones degrade gracefully, and a run
// with no matches returns baseMultiplier unchanged.
func Calculate(baseMultiplier float64, rules []Rule, rctx Context, strategy Strategy) float64 {
	matched := matchRules(rules, rctx)
	if len(matched) == 0 {
		return baseMultiplier
	}

	var factor float64
	switch strategy {
	case StrategyMultiply:
		factor = 1
		for _, r := range matched {
			factor *= r.Multiplier
		}
	default:
		// highest_priority is the default combination.
		best := matched[0]
		for _, r := range matched[1:] {
			if r.Priority > best.Priority {
				best = r
			}
		}
		factor = best.Multiplier
	}

	return baseMultiplier * factor
}

// matchRules returns the enabled rules matching the context, with
// multipliers clamped into (0, 100].
func matchRules(rules []Rule, rctx Context) []Rule {
	var matched []Rule
	for _, r := range rules {
		if !r.IsEnabled {
			continue
		}
		if r.Multiplier <= 0 {
			slog.Debug("skipping cost rule with non-positive multiplier", "rule_id", r.ID)
			continue
		}
		if r.Multiplier > maxMultiplier {
			r.Multiplier = maxMultiplier
		}

		switch r.RuleType {
		case RuleTypeModel:
			if r.ModelPattern != "" && glob.MatchFold(r.ModelPattern, rctx.Model) {
				matched = append(matched, r)
			}
		case RuleTypeTimePeriod:
			if matchesAnyPeriod(r.TimePeriods, rctx) {
				matched = append(matched, r)
			}
		}
	}
	return matched
}

// matchesAnyPeriod reports whether the request's local time falls inside
// any of the rule's windows. Malformed windows are skipped, never fatal.
func matchesAnyPeriod(periods []TimePeriod, rctx Context) bool {
	local := rctx.RequestTime.In(loadLocation(rctx.Timezone))
	minute := local.Hour()*60 + local.Minute()
	weekday := isoWeekday(local.Weekday())

	for _, p := range periods {
		start, ok := parseClock(p.StartTime)
		if !ok {
			continue
		}
		end, ok := parseClock(p.EndTime)
		if !ok {
			continue
		}

		if len(p.Weekdays) > 0 && !containsInt(p.Weekdays, weekday) {
			continue
		}

		if inWindow(minute, start, end) {
			return true
		}
	}
	return false
}

// inWindow checks start <= minute < end, wrapping past midnight when the
// window's end precedes its start (e.g. 22:00-06:00).
func inWindow(minute, start, end int) bool {
	if end < start {
		return minute >= start || minute < end
	}
	return minute >= start && minute < end
}

// loadLocation resolves an IANA zone name, falling back to UTC on any
// failure so a misconfigured rule can never fail the caller's request.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Debug("invalid timezone in cost rule context, using UTC", "timezone", name)
		return time.UTC
	}
	return loc
}

// parseClock parses "HH:mm" into minutes since midnight.
func parseClock(s string) (int, bool) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// isoWeekday converts Go's Sunday-based weekday to ISO 1=Monday..7=Sunday.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
