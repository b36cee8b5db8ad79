// Package costs computes dynamic cost multipliers from provider cost rules.
//
// A rule either matches the requested model against a case-insensitive glob
// or matches the request's local time against configured daily windows.
// Matched rules combine under one of two strategies: highest_priority
// applies only the strongest-priority match, multiply applies the product
// of every match. The engine is a pure function of its inputs and degrades
// gracefully: invalid timezones fall back to UTC, malformed windows are
// skipped, and out-of-range multipliers are clamped or dropped. It never
// fails the caller's request.
package costs
