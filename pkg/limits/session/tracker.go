package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/cache"
)

const (
	// liveWindow is how long a session counts as active without a
	// timestamp refresh.
	liveWindow = 5 * time.Minute

	// setBackstopTTL bounds the lifetime of the tracking sets as a
	// whole. Sorted sets have no per-member expiry, so the TTL is a
	// bulk defense against leaked members.
	setBackstopTTL = time.Hour

	// concurrencyTTL bounds a session's in-flight counter. Longer than
	// liveWindow so a still-running request is not undercounted.
	concurrencyTTL = 10 * time.Minute
)

// GlobalKey is the sorted set tracking every active session.
func GlobalKey() string { return "sessions:active" }

// KeyScope is the sorted set tracking one API key's active sessions.
func KeyScope(keyID string) string { return "sessions:apikey:" + keyID }

// ProviderScope is the sorted set tracking one provider's active
// sessions.
func ProviderScope(providerID int64) string {
	return "sessions:provider:" + strconv.FormatInt(providerID, 10)
}

func concurrencyKey(sessionID string) string {
	return "session_concurrency:" + sessionID
}

// Bindings is the externally-owned session-binding collaborator. The
// tracker's sorted sets are an index; the binding record is
// authoritative for liveness, since a member can outlive an
// independently-expiring binding.
type Bindings interface {
	// Alive reports whether the session's binding record still exists.
	Alive(ctx context.Context, sessionID string) (bool, error)

	// Refresh extends the binding record's TTL.
	Refresh(ctx context.Context, sessionID string, ttl time.Duration) error
}

// CacheBindings implements Bindings over binding records kept in the
// shared cache under "session_binding:{sessionId}".
type CacheBindings struct {
	Store *cache.Store
}

func (b CacheBindings) Alive(ctx context.Context, sessionID string) (bool, error) {
	return b.Store.Exists(ctx, "session_binding:"+sessionID)
}

func (b CacheBindings) Refresh(ctx context.Context, sessionID string, ttl time.Duration) error {
	_, err := b.Store.Expire(ctx, "session_binding:"+sessionID, ttl)
	return err
}

// Tracker maintains session activity across three sorted sets (global,
// per-key, per-provider) plus a per-session concurrency counter.
//
// The composite CheckAndTrack admission runs under the tracker's own
// mutex; separate count-then-track calls race and can over-admit.
type Tracker struct {
	store    *cache.Store
	bindings Bindings
	logger   *slog.Logger

	// mu serializes composite count-then-track admissions.
	mu sync.Mutex
}

// NewTracker creates a tracker over store. bindings may be nil, in
// which case every trimmed-in member counts as live.
func NewTracker(store *cache.Store, bindings Bindings, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, bindings: bindings, logger: logger}
}

// Track records activity for a session under an API key, upserting the
// global and key-scoped sets with the current timestamp.
func (t *Tracker) Track(ctx context.Context, sessionID, keyID string) error {
	now := float64(time.Now().UnixMilli())

	results := t.store.Pipeline().
		ZAdd(GlobalKey(), cache.Z{Score: now, Member: sessionID}).
		Expire(GlobalKey(), setBackstopTTL).
		ZAdd(KeyScope(keyID), cache.Z{Score: now, Member: sessionID}).
		Expire(KeyScope(keyID), setBackstopTTL).
		Exec(ctx)

	return firstError(results)
}

// BindProvider upserts the session into a provider's set and refreshes
// its global timestamp.
func (t *Tracker) BindProvider(ctx context.Context, sessionID string, providerID int64) error {
	now := float64(time.Now().UnixMilli())

	results := t.store.Pipeline().
		ZAdd(ProviderScope(providerID), cache.Z{Score: now, Member: sessionID}).
		Expire(ProviderScope(providerID), setBackstopTTL).
		ZAdd(GlobalKey(), cache.Z{Score: now, Member: sessionID}).
		Expire(GlobalKey(), setBackstopTTL).
		Exec(ctx)

	return firstError(results)
}

// Refresh bumps the session's timestamp in all three sets and extends
// the external binding record in lockstep.
func (t *Tracker) Refresh(ctx context.Context, sessionID, keyID string, providerID int64) error {
	now := float64(time.Now().UnixMilli())

	results := t.store.Pipeline().
		ZAdd(GlobalKey(), cache.Z{Score: now, Member: sessionID}).
		ZAdd(KeyScope(keyID), cache.Z{Score: now, Member: sessionID}).
		ZAdd(ProviderScope(providerID), cache.Z{Score: now, Member: sessionID}).
		Expire(GlobalKey(), setBackstopTTL).
		Expire(KeyScope(keyID), setBackstopTTL).
		Expire(ProviderScope(providerID), setBackstopTTL).
		Exec(ctx)
	if err := firstError(results); err != nil {
		return err
	}

	if t.bindings != nil {
		if err := t.bindings.Refresh(ctx, sessionID, liveWindow); err != nil {
			return fmt.Errorf("refreshing session binding: %w", err)
		}
	}
	return nil
}

// Count returns how many sessions in a scope are live: members older
// than the liveness window are trimmed, and survivors only count while
// their external binding record still exists. Dead members are removed
// from the index.
func (t *Tracker) Count(ctx context.Context, scopeKey string) (int, error) {
	cutoff := float64(time.Now().Add(-liveWindow).UnixMilli())

	if _, err := t.store.ZRemRangeByScore(ctx, scopeKey, math.Inf(-1), cutoff-1); err != nil {
		return 0, fmt.Errorf("trimming session set: %w", err)
	}

	members, err := t.store.ZRange(ctx, scopeKey, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("reading session set: %w", err)
	}

	count := 0
	for _, sessionID := range members {
		if t.bindings != nil {
			alive, err := t.bindings.Alive(ctx, sessionID)
			if err != nil {
				return 0, fmt.Errorf("probing session binding: %w", err)
			}
			if !alive {
				t.store.ZRem(ctx, scopeKey, sessionID)
				continue
			}
		}
		count++
	}
	return count, nil
}

// CheckAndTrack atomically counts a provider's live sessions and, when
// under the limit, tracks the new session. Returns whether the session
// was admitted, the live count observed, and whether tracking happened.
// A session already present in the set is admitted without recounting
// against the limit.
func (t *Tracker) CheckAndTrack(ctx context.Context, providerID int64, sessionID string, limit int) (allowed bool, count int, tracked bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	scopeKey := ProviderScope(providerID)

	if _, err := t.store.ZScore(ctx, scopeKey, sessionID); err == nil {
		// Known session: refresh its timestamp, never double-count.
		if err := t.BindProvider(ctx, sessionID, providerID); err != nil {
			return false, 0, false, err
		}
		n, err := t.Count(ctx, scopeKey)
		if err != nil {
			return false, 0, false, err
		}
		return true, n, true, nil
	}

	n, err := t.Count(ctx, scopeKey)
	if err != nil {
		return false, 0, false, err
	}
	if limit > 0 && n >= limit {
		return false, n, false, nil
	}

	if err := t.BindProvider(ctx, sessionID, providerID); err != nil {
		return false, n, false, err
	}
	return true, n + 1, true, nil
}

// IncrementConcurrent bumps the session's in-flight request counter and
// refreshes its TTL.
func (t *Tracker) IncrementConcurrent(ctx context.Context, sessionID string) (int64, error) {
	key := concurrencyKey(sessionID)

	n, err := t.store.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if _, err := t.store.Expire(ctx, key, concurrencyTTL); err != nil {
		return n, err
	}
	return n, nil
}

// DecrementConcurrent drops the counter, deleting the key outright once
// it reaches zero or below so stale counters cannot linger.
func (t *Tracker) DecrementConcurrent(ctx context.Context, sessionID string) (int64, error) {
	key := concurrencyKey(sessionID)

	n, err := t.store.Decr(ctx, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if _, err := t.store.Del(ctx, key); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

// GetConcurrent returns the session's in-flight request count.
func (t *Tracker) GetConcurrent(ctx context.Context, sessionID string) (int64, error) {
	v, err := t.store.Get(ctx, concurrencyKey(sessionID))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt concurrency counter for %s: %w", sessionID, err)
	}
	return n, nil
}

func firstError(results []cache.Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
