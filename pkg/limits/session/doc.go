// Package session tracks active proxy sessions and their concurrency.
//
// Activity lives in three sorted sets (global, per-API-key,
// per-provider) mapping session ID to last-activity timestamp. The sets
// are an index only: an externally-owned binding record is the
// authority on liveness, and counting verifies it for every survivor of
// the five-minute trim. CheckAndTrack is the atomic count-then-track
// admission used for provider concurrency caps.
package session
