// Package cache implements the in-process store backing the admission core.
//
// # Overview
//
// The store is a TTL-aware key-value map with string, hash, and sorted-set
// values, exposing the cache-server operation subset the gateway needs:
//
//   - String ops: Get, Set, SetEx, SetNX, Del, Exists, Incr, Decr,
//     IncrByFloat, Expire, TTL, Scan
//   - Hash ops: HSet, HGet, HGetAll
//   - Sorted-set ops: ZAdd, ZRange, ZRangeByScore, ZRemRangeByScore,
//     ZCard, ZScore, ZRem
//   - Pipelines: sequential, non-atomic batches with per-command results
//   - Window scripts: atomic trim/insert/sum over rolling cost windows
//
// # Atomicity
//
// Every operation runs under one exclusive lock, so each call is atomic
// with respect to concurrent callers. Pipelines are explicitly NOT atomic
// as a whole: commands execute sequentially and a mid-batch failure does
// not roll back earlier commands. Composite check-then-act sequences must
// use the window scripts (scripts.go), which hold the lock across the
// whole trim/insert/sum sequence.
//
// # Expiry
//
// Reads treat expired entries as absent and reclaim them lazily; a
// background sweep (default every minute) reclaims the rest. Contents are
// not persisted across restarts.
package cache
