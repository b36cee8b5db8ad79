// Package glob implements the minimal wildcard grammar used by cache key
// scans and cost-rule model patterns: `*` matches any run of characters
// (including none) and `?` matches exactly one character. Unlike path.Match
// there are no character classes and no escaping, so patterns taken from
// configuration can never fail to parse.
package glob

import "strings"

// Match reports whether s matches pattern. Matching is case-sensitive.
func Match(pattern, s string) bool {
	return match(pattern, s)
}

// MatchFold reports whether s matches pattern, ignoring case.
func MatchFold(pattern, s string) bool {
	return match(strings.ToLower(pattern), strings.ToLower(s))
}

// match runs an iterative wildcard match with single-star backtracking.
func match(pattern, s string) bool {
	var (
		pi, si         int
		starPi, starSi = -1, 0
	)

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			// Record the star position; try matching zero characters first.
			starPi = pi
			starSi = si
			pi++
		case starPi != -1:
			// Backtrack: let the last star consume one more character.
			starSi++
			pi = starPi + 1
			si = starSi
		default:
			return false
		}
	}

	// Only trailing stars may remain in the pattern.
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
