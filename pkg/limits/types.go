package limits

// Period is the time span a cost limit covers.
type Period string

const (
	Period5h      Period = "5h"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ResetMode distinguishes calendar-aligned fixed windows from windows
// that slide continuously with now.
type ResetMode string

const (
	ResetFixed   ResetMode = "fixed"
	ResetRolling ResetMode = "rolling"
)

// CostLimit is one spending cap, supplied per call by the proxy layer
// and never persisted here. A nil Amount means the limit is not
// configured and always passes.
type CostLimit struct {
	Amount *float64

	Period Period

	// ResetTime is the "HH:mm" local reset instant for fixed daily
	// windows. Ignored for other periods.
	ResetTime string

	// ResetMode selects fixed or rolling accounting for daily limits.
	// 5h limits are always rolling; weekly and monthly always fixed.
	ResetMode ResetMode
}

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// AdmissionResult is the outcome of the atomic provider-session
// admission.
type AdmissionResult struct {
	Allowed bool
	Count   int
	Tracked bool
	Reason  string
}

func allow() CheckResult { return CheckResult{Allowed: true} }

func deny(reason string) CheckResult { return CheckResult{Allowed: false, Reason: reason} }
