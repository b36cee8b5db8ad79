package cache

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

const (
	window5h  = 18000000 * time.Millisecond
	window24h = 86400000 * time.Millisecond
)

func TestTrackCostWindow_SumsSurvivors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	total, err := s.TrackCostWindow(ctx, "k:1:cost_5h_rolling", 1.5, now.Add(-time.Hour), window5h, 0)
	if err != nil || total != 1.5 {
		t.Fatalf("Expected total 1.5, got %v (err=%v)", total, err)
	}

	total, err = s.TrackCostWindow(ctx, "k:1:cost_5h_rolling", 2.5, now, window5h, 0)
	if err != nil {
		t.Fatalf("TrackCostWindow failed: %v", err)
	}
	if total != 4 {
		t.Errorf("Expected total 4, got %v", total)
	}
}

func TestSumCostWindow_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.TrackCostWindow(ctx, "w", 1.25, now.Add(-2*time.Hour), window5h, 0)
	s.TrackCostWindow(ctx, "w", 0.75, now.Add(-time.Hour), window5h, 0)

	first, err := s.SumCostWindow(ctx, "w", now, window5h)
	if err != nil {
		t.Fatalf("SumCostWindow failed: %v", err)
	}
	second, err := s.SumCostWindow(ctx, "w", now, window5h)
	if err != nil {
		t.Fatalf("Second SumCostWindow failed: %v", err)
	}

	if first != second {
		t.Errorf("Get is not idempotent: %v != %v", first, second)
	}
	if first != 2 {
		t.Errorf("Expected 2, got %v", first)
	}
}

func TestWindow_BoundaryInclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	// Exactly at now - 18,000,000 ms: included.
	onEdge := now.Add(-window5h)
	// One millisecond older: excluded.
	pastEdge := now.Add(-window5h - time.Millisecond)

	s.TrackCostWindow(ctx, "w", 10, pastEdge, window5h, 0)
	s.TrackCostWindow(ctx, "w", 3, onEdge, window5h, 0)

	total, err := s.SumCostWindow(ctx, "w", now, window5h)
	if err != nil {
		t.Fatalf("SumCostWindow failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected only the on-edge event (3), got %v", total)
	}
}

func TestWindow_TrimRemovesExpiredMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.TrackCostWindow(ctx, "w", 5, now.Add(-25*time.Hour), window24h, 0)
	s.TrackCostWindow(ctx, "w", 7, now, window24h, 0)

	card, _ := s.ZCard(ctx, "w")
	if card != 1 {
		t.Errorf("Expected trim to leave 1 member, got %d", card)
	}

	total, _ := s.SumCostWindow(ctx, "w", now, window24h)
	if total != 7 {
		t.Errorf("Expected 7, got %v", total)
	}
}

func TestSumCostWindow_EmptyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	total, err := s.SumCostWindow(ctx, "missing", time.Now(), window5h)
	if err != nil || total != 0 {
		t.Errorf("Expected 0 for missing key, got %v (err=%v)", total, err)
	}
}

func TestSumCostWindow_DeletesFullyTrimmedKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.TrackCostWindow(ctx, "w", 5, now.Add(-6*time.Hour), window5h, 0)

	total, _ := s.SumCostWindow(ctx, "w", now, window5h)
	if total != 0 {
		t.Errorf("Expected 0 after trim, got %v", total)
	}
	if ok, _ := s.Exists(ctx, "w"); ok {
		t.Error("Fully trimmed window key should be deleted")
	}
}

func TestTrackCostWindow_SetsBackstopTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.TrackCostWindow(ctx, "w", 1, time.Now(), window5h, time.Hour)

	ttl, err := s.TTL(ctx, "w")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected TTL in (0, 1h], got %v", ttl)
	}
}

func TestTrackCostWindow_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 100 goroutines each track a distinct cost; the final sum must see
	// every event exactly once.
	var wg sync.WaitGroup
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.TrackCostWindow(ctx, "w", 1, base.Add(time.Duration(i)*time.Millisecond), window5h, 0)
		}(i)
	}
	wg.Wait()

	total, err := s.SumCostWindow(ctx, "w", time.Now(), window5h)
	if err != nil {
		t.Fatalf("SumCostWindow failed: %v", err)
	}
	if math.Abs(total-100) > 1e-9 {
		t.Errorf("Expected 100, got %v", total)
	}
}
