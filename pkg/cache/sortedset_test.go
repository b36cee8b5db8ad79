package cache

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestZAdd_UpsertSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.ZAdd(ctx, "z", Z{Score: 1, Member: "a"}, Z{Score: 2, Member: "b"})
	if err != nil || added != 2 {
		t.Fatalf("Expected 2 added, got %d (err=%v)", added, err)
	}

	// Re-adding an existing member replaces its score; one score per member.
	added, err = s.ZAdd(ctx, "z", Z{Score: 9, Member: "a"})
	if err != nil || added != 0 {
		t.Fatalf("Expected 0 added on upsert, got %d (err=%v)", added, err)
	}

	score, err := s.ZScore(ctx, "z", "a")
	if err != nil || score != 9 {
		t.Errorf("Expected score 9, got %v (err=%v)", score, err)
	}

	card, _ := s.ZCard(ctx, "z")
	if card != 2 {
		t.Errorf("Expected card 2, got %d", card)
	}
}

func TestZRange_RankOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.ZAdd(ctx, "z",
		Z{Score: 30, Member: "c"},
		Z{Score: 10, Member: "a"},
		Z{Score: 20, Member: "b"},
	)

	members, err := s.ZRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("ZRange failed: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", members)
	}

	members, _ = s.ZRange(ctx, "z", 1, 1)
	if !reflect.DeepEqual(members, []string{"b"}) {
		t.Errorf("Expected [b], got %v", members)
	}

	members, _ = s.ZRange(ctx, "z", -2, -1)
	if !reflect.DeepEqual(members, []string{"b", "c"}) {
		t.Errorf("Expected [b c], got %v", members)
	}

	members, _ = s.ZRange(ctx, "z", 5, 10)
	if len(members) != 0 {
		t.Errorf("Expected empty range, got %v", members)
	}
}

func TestZRangeByScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.ZAdd(ctx, "z",
		Z{Score: 100, Member: "old"},
		Z{Score: 200, Member: "mid"},
		Z{Score: 300, Member: "new"},
	)

	members, err := s.ZRangeByScore(ctx, "z", 150, 250)
	if err != nil {
		t.Fatalf("ZRangeByScore failed: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"mid"}) {
		t.Errorf("Expected [mid], got %v", members)
	}

	// Bounds are inclusive.
	members, _ = s.ZRangeByScore(ctx, "z", 100, 300)
	if len(members) != 3 {
		t.Errorf("Expected all 3 members, got %v", members)
	}

	members, _ = s.ZRangeByScore(ctx, "z", math.Inf(-1), math.Inf(1))
	if len(members) != 3 {
		t.Errorf("Expected all members with infinite bounds, got %v", members)
	}
}

func TestZRemRangeByScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.ZAdd(ctx, "z",
		Z{Score: 100, Member: "old"},
		Z{Score: 200, Member: "mid"},
		Z{Score: 300, Member: "new"},
	)

	removed, err := s.ZRemRangeByScore(ctx, "z", math.Inf(-1), 200)
	if err != nil || removed != 2 {
		t.Fatalf("Expected 2 removed, got %d (err=%v)", removed, err)
	}

	card, _ := s.ZCard(ctx, "z")
	if card != 1 {
		t.Errorf("Expected card 1, got %d", card)
	}
}

func TestZRem_DeletesEmptySet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.ZAdd(ctx, "z", Z{Score: 1, Member: "only"})

	removed, err := s.ZRem(ctx, "z", "only", "missing")
	if err != nil || removed != 1 {
		t.Fatalf("Expected 1 removed, got %d (err=%v)", removed, err)
	}

	// Emptied set is gone entirely.
	if ok, _ := s.Exists(ctx, "z"); ok {
		t.Error("Emptied sorted set should be deleted")
	}
}

func TestZOps_MissingKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if members, err := s.ZRange(ctx, "missing", 0, -1); err != nil || len(members) != 0 {
		t.Errorf("ZRange on missing key: got %v, %v", members, err)
	}
	if card, err := s.ZCard(ctx, "missing"); err != nil || card != 0 {
		t.Errorf("ZCard on missing key: got %d, %v", card, err)
	}
	if _, err := s.ZScore(ctx, "missing", "m"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ZScore on missing key: expected ErrNotFound, got %v", err)
	}
	if removed, err := s.ZRem(ctx, "missing", "m"); err != nil || removed != 0 {
		t.Errorf("ZRem on missing key: got %d, %v", removed, err)
	}
}
