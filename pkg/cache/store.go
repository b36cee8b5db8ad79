package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"mercator-hq/ganymede/internal/glob"
)

// Store error types.
var (
	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("cache store is closed")

	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("cache key not found")

	// ErrWrongType is returned when an operation targets a key holding a
	// different kind of value (string vs hash vs sorted set).
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

	// ErrNotNumeric is returned when Incr/Decr/IncrByFloat targets a value
	// that cannot be parsed as a number.
	ErrNotNumeric = errors.New("value is not a number")
)

// valueKind identifies the kind of value stored under a key.
type valueKind uint8

const (
	kindString valueKind = iota
	kindHash
	kindZSet
)

// entry is a single keyed value with an optional expiry.
// A zero expireAt means the entry never expires.
type entry struct {
	kind     valueKind
	str      string
	hash     map[string]string
	zset     map[string]float64
	expireAt time.Time
}

// expired reports whether the entry is past its expiry at the given instant.
func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Store is an in-process TTL-aware key-value store with string, hash, and
// sorted-set values, modeled on the cache-server operation subset the
// admission core needs.
//
// All operations on the store are serialized by a single exclusive lock, so
// every read-modify-write call (Incr, SetNX, the window scripts in
// scripts.go) is atomic with respect to concurrent callers. Atomicity is
// per-call only: callers that need a composite check-then-act must use a
// dedicated composite operation, not two separate calls.
//
// Expired entries are treated as absent by every read and are reclaimed
// lazily on access plus proactively by a periodic sweep. Contents are not
// persisted; a restart starts empty.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	sweepInterval time.Duration
	logger        *slog.Logger

	done   chan struct{}
	closed bool
}

// Config configures a Store.
type Config struct {
	// SweepInterval is how often the background sweep reclaims expired
	// entries. Default: 1 minute. A non-positive value after defaulting
	// disables the sweep (expiry still happens lazily on access).
	SweepInterval time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewStore creates a new store and starts its background sweep.
// Callers must Close the store to stop the sweep goroutine.
func NewStore(cfg Config) *Store {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		entries:       make(map[string]*entry),
		sweepInterval: cfg.SweepInterval,
		logger:        cfg.Logger.With("component", "cache"),
		done:          make(chan struct{}),
	}

	if s.sweepInterval > 0 {
		go s.sweepLoop()
	}

	return s
}

// Ping reports whether the store is usable. It returns ErrClosed after Close.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the background sweep and marks the store unusable.
// Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.entries = make(map[string]*entry)
	return nil
}

// ============================================================================
// String operations
// ============================================================================

// Get returns the string value stored at key.
// Returns ErrNotFound if the key is absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		return "", ErrNotFound
	}
	if e.kind != kindString {
		return "", ErrWrongType
	}
	return e.str, nil
}

// Set stores a string value without an expiry, replacing any previous value
// and clearing any previous expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.setValue(key, value, 0)
}

// SetEx stores a string value with the given TTL.
func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.setValue(key, value, ttl)
}

func (s *Store) setValue(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// SetNX stores a string value with the given TTL only if the key does not
// already exist. Returns true if the value was stored.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	if s.lookupLocked(key) != nil {
		return false, nil
	}

	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// Del removes the given keys. Returns the number of keys removed.
func (s *Store) Del(ctx context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	removed := 0
	for _, key := range keys {
		if s.lookupLocked(key) != nil {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Exists reports whether the key exists and has not expired.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	return s.lookupLocked(key) != nil, nil
}

// Incr atomically increments the integer value at key by one.
// A missing key is treated as zero. Returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.incrBy(key, 1)
}

// Decr atomically decrements the integer value at key by one.
// A missing key is treated as zero. Returns the new value.
func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	return s.incrBy(key, -1)
}

func (s *Store) incrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{kind: kindString, str: "0"}
		s.entries[key] = e
	}
	if e.kind != kindString {
		return 0, ErrWrongType
	}

	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}

	n += delta
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

// IncrByFloat atomically increments the float value at key by delta.
// A missing key is treated as zero. Returns the new value.
func (s *Store) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{kind: kindString, str: "0"}
		s.entries[key] = e
	}
	if e.kind != kindString {
		return 0, ErrWrongType
	}

	f, err := strconv.ParseFloat(e.str, 64)
	if err != nil {
		return 0, ErrNotNumeric
	}

	f += delta
	e.str = strconv.FormatFloat(f, 'f', -1, 64)
	return f, nil
}

// Expire sets or replaces the TTL on an existing key.
// Returns false if the key does not exist.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		return false, nil
	}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.expireAt = time.Time{}
	}
	return true, nil
}

// TTL returns the remaining time to live of a key. It returns -1 for a key
// with no expiry and ErrNotFound for an absent key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expireAt.IsZero() {
		return -1, nil
	}
	return time.Until(e.expireAt), nil
}

// ============================================================================
// Hash operations
// ============================================================================

// HSet sets the given fields on the hash stored at key, creating the hash
// if it does not exist.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{kind: kindHash, hash: make(map[string]string)}
		s.entries[key] = e
	}
	if e.kind != kindHash {
		return ErrWrongType
	}

	for f, v := range fields {
		e.hash[f] = v
	}
	return nil
}

// HGet returns a single field from the hash stored at key.
// Returns ErrNotFound if the key or field is absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		return "", ErrNotFound
	}
	if e.kind != kindHash {
		return "", ErrWrongType
	}

	v, ok := e.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// HGetAll returns a copy of all fields of the hash stored at key.
// An absent key yields an empty map, mirroring the cache-server behavior.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	e := s.lookupLocked(key)
	if e == nil {
		return map[string]string{}, nil
	}
	if e.kind != kindHash {
		return nil, ErrWrongType
	}

	out := make(map[string]string, len(e.hash))
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

// Scan returns all live keys matching the glob pattern (`*`, `?`).
// This is a full-table scan, O(n) in entry count, which is acceptable for a
// single process's working set.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	var keys []string
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			continue
		}
		if glob.Match(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len returns the number of live entries. Primarily for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// ============================================================================
// Expiry internals
// ============================================================================

// lookupLocked returns the live entry for key, deleting it lazily if it has
// expired. Caller must hold the store lock.
func (s *Store) lookupLocked(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// sweepLoop proactively reclaims expired entries at a fixed interval.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes every expired entry in one pass.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	now := time.Now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("sweep reclaimed expired entries", "removed", removed, "remaining", len(s.entries))
	}
}
