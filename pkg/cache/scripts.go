package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Window scripts: composite trim/insert/sum operations over a cost sorted
// set, executed as a single critical section on the store. They stand in
// for server-side atomic scripting: the trim, the optional insert, and the
// sum can never interleave with another caller on the same key.
//
// Each member encodes "{timestampMs}:{cost}" with the timestamp as its
// score. The score drives trimming; the cost rides in the member string
// because a score alone cannot carry both dimensions. Two events in the
// same millisecond with the same cost collapse into one member (one score
// per member per set); this matches the upstream accounting.

// TrackCostWindow removes members older than the window, inserts a new cost
// event at now, refreshes the key's backstop TTL (when ttl > 0), and
// returns the cost sum of the surviving members, all atomically.
func (s *Store) TrackCostWindow(ctx context.Context, key string, cost float64, now time.Time, window, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e, err := s.zsetEntry(key, true)
	if err != nil {
		return 0, err
	}

	nowMs := now.UnixMilli()
	trimWindowLocked(e, nowMs, window)

	member := strconv.FormatInt(nowMs, 10) + ":" + strconv.FormatFloat(cost, 'f', -1, 64)
	e.zset[member] = float64(nowMs)

	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}

	return sumWindowLocked(e), nil
}

// SumCostWindow removes members older than the window and returns the cost
// sum of the survivors, atomically, without inserting. Two calls with no
// intervening track return the same total.
func (s *Store) SumCostWindow(ctx context.Context, key string, now time.Time, window time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e, err := s.zsetEntry(key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}

	trimWindowLocked(e, now.UnixMilli(), window)
	if len(e.zset) == 0 {
		delete(s.entries, key)
		return 0, nil
	}

	return sumWindowLocked(e), nil
}

// trimWindowLocked drops members scored strictly below nowMs - windowMs.
// Caller must hold the store lock.
func trimWindowLocked(e *entry, nowMs int64, window time.Duration) {
	cutoff := float64(nowMs - window.Milliseconds())
	for member, score := range e.zset {
		if score < cutoff {
			delete(e.zset, member)
		}
	}
}

// sumWindowLocked totals the cost component of every member.
// Malformed members contribute zero rather than failing the whole sum.
// Caller must hold the store lock.
func sumWindowLocked(e *entry) float64 {
	var total float64
	for member := range e.zset {
		_, costPart, found := strings.Cut(member, ":")
		if !found {
			continue
		}
		cost, err := strconv.ParseFloat(costPart, 64)
		if err != nil {
			continue
		}
		total += cost
	}
	return total
}
