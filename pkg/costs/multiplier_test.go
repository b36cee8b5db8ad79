package costs

import (
	"math"
	"testing"
	"time"
)

// mustTime parses an RFC3339 timestamp for test fixtures.
func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad fixture time %q: %v", s, err)
	}
	return ts
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================================
// Model Rule Tests
// ============================================================================

func TestCalculate_ModelGlob(t *testing.T) {
	rules := []Rule{
		{ID: 1, RuleType: RuleTypeModel, ModelPattern: "claude-3-5-*", Multiplier: 1.5, Priority: 1, IsEnabled: true},
	}
	rctx := Context{Model: "claude-3-5-sonnet", RequestTime: time.Now()}

	if got := Calculate(2, rules, rctx, StrategyMultiply); !almostEqual(got, 3) {
		t.Errorf("Expected 3, got %v", got)
	}

	// Matching is case-insensitive.
	rctx.Model = "Claude-3-5-Haiku"
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 1.5) {
		t.Errorf("Expected 1.5, got %v", got)
	}

	rctx.Model = "gpt-4o"
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("Non-matching model should leave base unchanged, got %v", got)
	}
}

func TestCalculate_DisabledRuleIgnored(t *testing.T) {
	rules := []Rule{
		{ID: 1, RuleType: RuleTypeModel, ModelPattern: "*", Multiplier: 5, Priority: 1, IsEnabled: false},
	}
	rctx := Context{Model: "any", RequestTime: time.Now()}

	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("Disabled rule must not apply, got %v", got)
	}
}

func TestCalculate_MultiplierClamping(t *testing.T) {
	rctx := Context{Model: "m", RequestTime: time.Now()}

	// Non-positive multipliers are dropped.
	rules := []Rule{{ID: 1, RuleType: RuleTypeModel, ModelPattern: "*", Multiplier: -2, Priority: 1, IsEnabled: true}}
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("Non-positive multiplier should be skipped, got %v", got)
	}

	// Oversized multipliers clamp to 100.
	rules = []Rule{{ID: 2, RuleType: RuleTypeModel, ModelPattern: "*", Multiplier: 500, Priority: 1, IsEnabled: true}}
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 100) {
		t.Errorf("Expected clamp to 100, got %v", got)
	}
}

// ============================================================================
// Time Period Rule Tests
// ============================================================================

func TestCalculate_TimePeriodWindow(t *testing.T) {
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "09:00", EndTime: "17:00"}},
		},
	}

	inside := Context{RequestTime: mustTime(t, "2026-08-24T12:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, inside, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Expected 2 inside window, got %v", got)
	}

	// Start is inclusive, end exclusive.
	atStart := Context{RequestTime: mustTime(t, "2026-08-24T09:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, atStart, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Start should be inclusive, got %v", got)
	}
	atEnd := Context{RequestTime: mustTime(t, "2026-08-24T17:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, atEnd, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("End should be exclusive, got %v", got)
	}
}

func TestCalculate_OvernightWraparound(t *testing.T) {
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "22:00", EndTime: "06:00"}},
		},
	}

	cases := []struct {
		time string
		want float64
	}{
		{"2026-08-24T23:00:00Z", 2}, // late evening: in
		{"2026-08-25T03:00:00Z", 2}, // early morning: in
		{"2026-08-24T12:00:00Z", 1}, // midday: out
		{"2026-08-24T22:00:00Z", 2}, // inclusive start
		{"2026-08-25T06:00:00Z", 1}, // exclusive end
	}

	for _, tc := range cases {
		rctx := Context{RequestTime: mustTime(t, tc.time), Timezone: "UTC"}
		if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, tc.want) {
			t.Errorf("At %s: expected %v, got %v", tc.time, tc.want, got)
		}
	}
}

func TestCalculate_TimezoneConversion(t *testing.T) {
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "22:00", EndTime: "06:00"}},
		},
	}

	// 15:00 UTC is 23:00 in Shanghai (UTC+8).
	rctx := Context{RequestTime: mustTime(t, "2026-08-24T15:00:00Z"), Timezone: "Asia/Shanghai"}
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Expected window match after timezone conversion, got %v", got)
	}

	// Same instant in UTC is outside the window.
	rctx.Timezone = "UTC"
	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("Expected no match in UTC, got %v", got)
	}
}

func TestCalculate_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "11:00", EndTime: "13:00"}},
		},
	}
	rctx := Context{RequestTime: mustTime(t, "2026-08-24T12:00:00Z"), Timezone: "Not/AZone"}

	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Invalid timezone should evaluate in UTC, got %v", got)
	}
}

func TestCalculate_MalformedPeriodSkipped(t *testing.T) {
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{
				{StartTime: "25:99", EndTime: "garbage"},
				{StartTime: "11:00", EndTime: "13:00"},
			},
		},
	}
	rctx := Context{RequestTime: mustTime(t, "2026-08-24T12:00:00Z"), Timezone: "UTC"}

	if got := Calculate(1, rules, rctx, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Malformed period should be skipped, valid one should match; got %v", got)
	}
}

func TestCalculate_WeekdayRestriction(t *testing.T) {
	// 2026-08-24 is a Monday, 2026-08-30 a Sunday.
	rules := []Rule{
		{
			ID: 1, RuleType: RuleTypeTimePeriod, Multiplier: 2, Priority: 1, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "00:00", EndTime: "23:59", Weekdays: []int{1, 7}}},
		},
	}

	monday := Context{RequestTime: mustTime(t, "2026-08-24T12:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, monday, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Monday (ISO 1) should match, got %v", got)
	}

	sunday := Context{RequestTime: mustTime(t, "2026-08-30T12:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, sunday, StrategyMultiply); !almostEqual(got, 2) {
		t.Errorf("Sunday (ISO 7) should match, got %v", got)
	}

	wednesday := Context{RequestTime: mustTime(t, "2026-08-26T12:00:00Z"), Timezone: "UTC"}
	if got := Calculate(1, rules, wednesday, StrategyMultiply); !almostEqual(got, 1) {
		t.Errorf("Wednesday should not match, got %v", got)
	}
}

// ============================================================================
// Combination Strategy Tests
// ============================================================================

func TestCalculate_CombinationStrategies(t *testing.T) {
	// The worked example: a 1.5x model rule and a 2.0x night rule, with a
	// matching model at 23:00 local.
	rules := []Rule{
		{ID: 1, RuleType: RuleTypeModel, ModelPattern: "claude-3-5-*", Multiplier: 1.5, Priority: 1, IsEnabled: true},
		{
			ID: 2, RuleType: RuleTypeTimePeriod, Multiplier: 2.0, Priority: 2, IsEnabled: true,
			TimePeriods: []TimePeriod{{StartTime: "22:00", EndTime: "06:00"}},
		},
	}
	rctx := Context{
		Model:       "claude-3-5-sonnet",
		RequestTime: mustTime(t, "2026-08-24T23:00:00Z"),
		Timezone:    "UTC",
	}

	base := 1.2
	if got := Calculate(base, rules, rctx, StrategyMultiply); !almostEqual(got, base*3.0) {
		t.Errorf("multiply: expected %v, got %v", base*3.0, got)
	}
	if got := Calculate(base, rules, rctx, StrategyHighestPriority); !almostEqual(got, base*2.0) {
		t.Errorf("highest_priority: expected %v, got %v", base*2.0, got)
	}
}

func TestCalculate_NoMatchReturnsBase(t *testing.T) {
	if got := Calculate(1.5, nil, Context{Model: "m", RequestTime: time.Now()}, StrategyMultiply); !almostEqual(got, 1.5) {
		t.Errorf("Expected base with no rules, got %v", got)
	}
}
