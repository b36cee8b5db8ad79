package limits

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/ganymede/pkg/cache"
	"mercator-hq/ganymede/pkg/limits/session"
	"mercator-hq/ganymede/pkg/storage"
)

func ptr(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*Service, *cache.Store, *storage.MemoryBackend) {
	t.Helper()
	store := cache.NewStore(cache.Config{SweepInterval: time.Hour})
	t.Cleanup(func() { store.Close() })

	backend := storage.NewMemoryBackend()
	svc := NewService(ServiceConfig{
		Store:    store,
		Repo:     backend,
		Sessions: session.NewTracker(store, nil, nil),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	})
	return svc, store, backend
}

// failingRepo errors on every aggregate query.
type failingRepo struct{}

func (failingRepo) SumCost(context.Context, storage.Scope, string, time.Time, time.Time) (float64, error) {
	return 0, fmt.Errorf("database unavailable")
}

func (failingRepo) CountRequests(context.Context, storage.Scope, string, time.Time, time.Time) (int64, error) {
	return 0, fmt.Errorf("database unavailable")
}

func (failingRepo) RecordUsage(context.Context, *storage.UsageRecord) error {
	return fmt.Errorf("database unavailable")
}

// ============================================================================
// Key Naming Tests
// ============================================================================

func TestCostKey_Naming(t *testing.T) {
	cases := []struct {
		limit CostLimit
		want  string
	}{
		{CostLimit{Period: Period5h}, "apikey:k1:cost_5h_rolling"},
		{CostLimit{Period: PeriodDaily, ResetMode: ResetRolling}, "apikey:k1:cost_daily_rolling"},
		{CostLimit{Period: PeriodDaily, ResetMode: ResetFixed, ResetTime: "18:00"}, "apikey:k1:cost_daily_1800"},
		{CostLimit{Period: PeriodDaily, ResetMode: ResetFixed}, "apikey:k1:cost_daily_0000"},
		{CostLimit{Period: PeriodWeekly}, "apikey:k1:cost_weekly"},
		{CostLimit{Period: PeriodMonthly}, "apikey:k1:cost_monthly"},
	}

	for _, tc := range cases {
		if got := costKey(storage.ScopeAPIKey, "k1", tc.limit); got != tc.want {
			t.Errorf("costKey(%+v) = %q, want %q", tc.limit, got, tc.want)
		}
	}
}

// ============================================================================
// Cost Limit Tests
// ============================================================================

func TestCheckCostLimits_UnderAndOver(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	costLimits := []CostLimit{{Amount: ptr(10), Period: Period5h}}

	svc.TrackCost(ctx, storage.ScopeAPIKey, "k1", "claude-3-5-sonnet", 6, costLimits)

	res, err := svc.CheckCostLimits(ctx, storage.ScopeAPIKey, "k1", costLimits)
	if err != nil || !res.Allowed {
		t.Fatalf("Expected allowed under limit, got %+v (err=%v)", res, err)
	}

	svc.TrackCost(ctx, storage.ScopeAPIKey, "k1", "claude-3-5-sonnet", 5, costLimits)

	res, _ = svc.CheckCostLimits(ctx, storage.ScopeAPIKey, "k1", costLimits)
	if res.Allowed {
		t.Fatal("Expected denial over limit")
	}
	if !strings.Contains(res.Reason, "5h") {
		t.Errorf("Reason should name the period, got %q", res.Reason)
	}
}

func TestCheckCostLimits_NilAmountPasses(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.CheckCostLimits(context.Background(), storage.ScopeAPIKey, "k1",
		[]CostLimit{{Period: Period5h}})
	if err != nil || !res.Allowed {
		t.Errorf("Unconfigured limit should pass, got %+v (err=%v)", res, err)
	}
}

func TestCheckCostLimits_FixedAndRollingIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	fixed := []CostLimit{{Amount: ptr(100), Period: PeriodDaily, ResetMode: ResetFixed, ResetTime: "18:00"}}
	rolling := CostLimit{Period: PeriodDaily, ResetMode: ResetRolling}

	// Establish the rolling window, then spend only against the fixed one.
	svc.TrackCost(ctx, storage.ScopeAPIKey, "k1", "", 0, []CostLimit{rolling})
	svc.TrackCost(ctx, storage.ScopeAPIKey, "k1", "", 42, fixed)

	// The fixed window sees the spend, the rolling one must not.
	got, err := svc.GetCurrentCost(ctx, storage.ScopeAPIKey, "k1", fixed[0])
	if err != nil || got != 42 {
		t.Errorf("Expected fixed window 42, got %v (err=%v)", got, err)
	}
	got, err = svc.GetCurrentCost(ctx, storage.ScopeAPIKey, "k1", rolling)
	if err != nil || got != 0 {
		t.Errorf("Expected rolling window 0, got %v (err=%v)", got, err)
	}
}

func TestCheckCostLimits_TracksUsageRecords(t *testing.T) {
	svc, _, backend := newTestService(t)
	ctx := context.Background()
	costLimits := []CostLimit{{Amount: ptr(10), Period: Period5h}}

	svc.TrackCost(ctx, storage.ScopeAPIKey, "k1", "claude-3-5-sonnet", 2.5, costLimits)

	now := time.Now()
	total, err := backend.SumCost(ctx, storage.ScopeAPIKey, "k1", now.Add(-time.Hour), now)
	if err != nil || total != 2.5 {
		t.Errorf("Expected usage record in repository, got %v (err=%v)", total, err)
	}
}

// ============================================================================
// Cache Miss and Warming Tests
// ============================================================================

func TestCurrentCost_ColdCacheFallsBackAndWarms(t *testing.T) {
	svc, store, backend := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	// History exists only in the repository: a fresh process.
	backend.RecordUsage(ctx, &storage.UsageRecord{
		Scope: storage.ScopeAPIKey, EntityID: "k1", Cost: 8, CreatedAt: now.Add(-time.Hour),
	})

	limit := CostLimit{Amount: ptr(10), Period: Period5h}
	got, err := svc.GetCurrentCost(ctx, storage.ScopeAPIKey, "k1", limit)
	if err != nil || got != 8 {
		t.Fatalf("Expected repository aggregate 8, got %v (err=%v)", got, err)
	}

	// The aggregate is now warmed into the cache.
	if ok, _ := store.Exists(ctx, "apikey:k1:cost_5h_rolling"); !ok {
		t.Error("Expected cache warmed after fallback")
	}

	res, _ := svc.CheckCostLimits(ctx, storage.ScopeAPIKey, "k1",
		[]CostLimit{{Amount: ptr(5), Period: Period5h}})
	if res.Allowed {
		t.Error("Warmed aggregate should deny a lower limit")
	}
}

func TestCurrentCost_GenuineZeroNotRefetched(t *testing.T) {
	svc, store, backend := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	// The repository holds history, but the fixed counter legitimately
	// reads zero: it must be trusted, not overwritten by the fallback.
	backend.RecordUsage(ctx, &storage.UsageRecord{
		Scope: storage.ScopeAPIKey, EntityID: "k1", Cost: 50, CreatedAt: now.Add(-time.Minute),
	})
	limit := CostLimit{Period: PeriodDaily, ResetMode: ResetFixed, ResetTime: "00:00"}
	store.Set(ctx, costKey(storage.ScopeAPIKey, "k1", limit), "0")

	got, err := svc.GetCurrentCost(ctx, storage.ScopeAPIKey, "k1", limit)
	if err != nil || got != 0 {
		t.Errorf("Existing zero counter should be trusted, got %v (err=%v)", got, err)
	}
}

func TestCurrentCost_FixedWindowWarmsWithResetTTL(t *testing.T) {
	svc, store, backend := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	backend.RecordUsage(ctx, &storage.UsageRecord{
		Scope: storage.ScopeAPIKey, EntityID: "k1", Cost: 3, CreatedAt: now.Add(-time.Minute),
	})

	limit := CostLimit{Period: PeriodMonthly}
	got, err := svc.GetCurrentCost(ctx, storage.ScopeAPIKey, "k1", limit)
	if err != nil || got != 3 {
		t.Fatalf("Expected 3 from repository, got %v (err=%v)", got, err)
	}

	ttl, err := store.TTL(ctx, "apikey:k1:cost_monthly")
	if err != nil || ttl <= 0 {
		t.Errorf("Warmed fixed counter should expire at the next reset, ttl=%v err=%v", ttl, err)
	}
}

// ============================================================================
// Fail-Open Tests
// ============================================================================

func TestChecks_FailOpenWhenEverythingIsDown(t *testing.T) {
	store := cache.NewStore(cache.Config{SweepInterval: time.Hour})
	svc := NewService(ServiceConfig{
		Store:    store,
		Repo:     failingRepo{},
		Sessions: session.NewTracker(store, nil, nil),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	})
	store.Close() // cache unavailable, repository failing
	ctx := context.Background()

	res, err := svc.CheckCostLimits(ctx, storage.ScopeAPIKey, "k1",
		[]CostLimit{{Amount: ptr(0.01), Period: Period5h}})
	if err != nil || !res.Allowed {
		t.Errorf("Cost check must fail open, got %+v (err=%v)", res, err)
	}

	res, err = svc.CheckSessionLimit(ctx, session.GlobalKey(), 1)
	if err != nil || !res.Allowed {
		t.Errorf("Session check must fail open, got %+v (err=%v)", res, err)
	}

	adm, err := svc.CheckAndTrackProviderSession(ctx, 1, "s1", 1)
	if err != nil || !adm.Allowed {
		t.Errorf("Provider admission must fail open, got %+v (err=%v)", adm, err)
	}
	if adm.Tracked {
		t.Error("Fail-open admission must not claim tracking succeeded")
	}

	res, err = svc.CheckUserRPM(ctx, "u1", 1)
	if err != nil || !res.Allowed {
		t.Errorf("RPM check must fail open, got %+v (err=%v)", res, err)
	}

	res, err = svc.CheckUserDailyCost(ctx, "u1", 0.01)
	if err != nil || !res.Allowed {
		t.Errorf("Daily cost check must fail open, got %+v (err=%v)", res, err)
	}
}

// ============================================================================
// Session Admission Tests
// ============================================================================

func TestCheckSessionLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tr := svc.sessions
	tr.Track(ctx, "s1", "k1")
	tr.Track(ctx, "s2", "k1")

	res, err := svc.CheckSessionLimit(ctx, session.KeyScope("k1"), 3)
	if err != nil || !res.Allowed {
		t.Errorf("Expected allowed under cap, got %+v (err=%v)", res, err)
	}

	res, _ = svc.CheckSessionLimit(ctx, session.KeyScope("k1"), 2)
	if res.Allowed {
		t.Error("Expected denial at cap")
	}

	if res, _ := svc.CheckSessionLimit(ctx, session.KeyScope("k1"), 0); !res.Allowed {
		t.Error("Zero cap means unlimited")
	}
}

func TestCheckAndTrackProviderSession_StressAdmitsExactlyLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const limit = 8
	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < limit+1; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.CheckAndTrackProviderSession(ctx, 1, fmt.Sprintf("s%d", i), limit)
			if err != nil {
				t.Errorf("CheckAndTrackProviderSession failed: %v", err)
				return
			}
			if res.Allowed {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if admitted.Load() != limit || rejected.Load() != 1 {
		t.Errorf("Expected %d admits and 1 reject, got %d/%d", limit, admitted.Load(), rejected.Load())
	}
}

// ============================================================================
// User Limit Tests
// ============================================================================

func TestCheckUserRPM(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.CheckUserRPM(ctx, "u1", 3)
		if err != nil || !res.Allowed {
			t.Fatalf("Request %d should be allowed, got %+v (err=%v)", i+1, res, err)
		}
	}

	res, _ := svc.CheckUserRPM(ctx, "u1", 3)
	if res.Allowed {
		t.Error("Fourth request in the minute should be denied")
	}

	if res, _ := svc.CheckUserRPM(ctx, "u1", 0); !res.Allowed {
		t.Error("Zero RPM cap means unlimited")
	}
}

func TestUserDailyCost_TrackAndCheck(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.TrackUserDailyCost(ctx, "u1", 7)

	res, err := svc.CheckUserDailyCost(ctx, "u1", 10)
	if err != nil || !res.Allowed {
		t.Errorf("Expected allowed under cap, got %+v (err=%v)", res, err)
	}

	svc.TrackUserDailyCost(ctx, "u1", 4)
	res, _ = svc.CheckUserDailyCost(ctx, "u1", 10)
	if res.Allowed {
		t.Error("Expected denial over cap")
	}
}
