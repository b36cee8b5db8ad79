package cache

import (
	"context"
	"sort"
)

// Z is a sorted-set member with its score.
type Z struct {
	Score  float64
	Member string
}

// zsetEntry returns the live sorted-set entry for key, creating it when
// create is true. Caller must hold the store lock.
func (s *Store) zsetEntry(key string, create bool) (*entry, error) {
	e := s.lookupLocked(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		s.entries[key] = e
		return e, nil
	}
	if e.kind != kindZSet {
		return nil, ErrWrongType
	}
	return e, nil
}

// ZAdd upserts members into the sorted set at key, creating the set if
// needed. Each member holds exactly one score; adding an existing member
// replaces its score. Returns the number of newly added members.
func (s *Store) ZAdd(ctx context.Context, key string, members ...Z) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	e, err := s.zsetEntry(key, true)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, m := range members {
		if _, exists := e.zset[m.Member]; !exists {
			added++
		}
		e.zset[m.Member] = m.Score
	}
	return added, nil
}

// ZRange returns members ordered by ascending (score, member) from rank
// start to rank stop inclusive. Negative indexes count from the end, with
// -1 denoting the last member.
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	e, err := s.zsetEntry(key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	ordered := sortedMembers(e.zset)
	n := int64(len(ordered))

	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}

	out := make([]string, 0, stop-start+1)
	for _, m := range ordered[start : stop+1] {
		out = append(out, m.Member)
	}
	return out, nil
}

// ZRangeByScore returns members with min <= score <= max, ordered by
// ascending (score, member). Use math.Inf bounds for open ranges.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	e, err := s.zsetEntry(key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	var out []string
	for _, m := range sortedMembers(e.zset) {
		if m.Score >= min && m.Score <= max {
			out = append(out, m.Member)
		}
	}
	return out, nil
}

// ZRemRangeByScore removes members with min <= score <= max.
// Returns the number of members removed. A set emptied by the removal is
// deleted outright.
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int, error) {
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

	removed := 0
	for member, score := range e.zset {
		if score >= min && score <= max {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return removed, nil
}

// ZCard returns the number of members in the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
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
	return int64(len(e.zset)), nil
}

// ZScore returns the score of member in the sorted set at key.
// Returns ErrNotFound if the key or member is absent.
func (s *Store) ZScore(ctx context.Context, key, member string) (float64, error) {
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
		return 0, ErrNotFound
	}

	score, ok := e.zset[member]
	if !ok {
		return 0, ErrNotFound
	}
	return score, nil
}

// ZRem removes the given members from the sorted set at key.
// Returns the number of members removed. A set emptied by the removal is
// deleted outright.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int, error) {
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

	removed := 0
	for _, member := range members {
		if _, ok := e.zset[member]; ok {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(s.entries, key)
	}
	return removed, nil
}

// sortedMembers returns the set's members ordered by ascending score, with
// ties broken lexicographically by member.
func sortedMembers(zset map[string]float64) []Z {
	ordered := make([]Z, 0, len(zset))
	for member, score := range zset {
		ordered = append(ordered, Z{Score: score, Member: member})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score < ordered[j].Score
		}
		return ordered[i].Member < ordered[j].Member
	})
	return ordered
}
