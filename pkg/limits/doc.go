// Package limits is the request-admission façade of the gateway. It
// combines sliding and calendar-aligned cost windows, per-scope session
// concurrency caps and per-user request rates into the check and track
// operations the proxy layer calls around every upstream request.
//
// Spend lives in the in-process cache with the durable repository as
// fallback: a zero read is only trusted after an existence probe, and a
// confirmed miss is answered from the repository aggregate which then
// warms the cache. All checks fail open when neither source can answer.
package limits
