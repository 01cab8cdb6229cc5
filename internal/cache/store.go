package cache

import "marketmux/models"

// Store is a bounded map of published records that preserves insertion
// order. Eviction removes the oldest-inserted entries, an approximation of
// LRU that is kept deliberately: recency is not tracked.
type Store struct {
	cap   int
	keys  []string
	items map[string]models.MarketTick
}

func NewStore(capacity int) *Store {
	return &Store{
		cap:   capacity,
		items: make(map[string]models.MarketTick, capacity),
	}
}

// Put writes a record and, when the store exceeds its cap, evicts the
// oldest-inserted 20% in one batch. The evicted keys are returned so the
// caller can drop any per-key state it holds alongside.
func (s *Store) Put(key string, tick models.MarketTick) []string {
	if _, ok := s.items[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.items[key] = tick

	if len(s.keys) <= s.cap {
		return nil
	}
	batch := s.cap / 5
	if batch < 1 {
		batch = 1
	}
	return s.evict(batch)
}

func (s *Store) Get(key string) (models.MarketTick, bool) {
	t, ok := s.items[key]
	return t, ok
}

func (s *Store) Delete(key string) {
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

func (s *Store) Len() int { return len(s.keys) }

// Keys returns the keys in insertion order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Values returns the records in insertion order.
func (s *Store) Values() []models.MarketTick {
	out := make([]models.MarketTick, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}

// Trim shrinks the store back to its cap, returning the evicted keys. Used
// by the periodic sweep.
func (s *Store) Trim() []string {
	if len(s.keys) <= s.cap {
		return nil
	}
	return s.evict(len(s.keys) - s.cap)
}

func (s *Store) evict(n int) []string {
	if n > len(s.keys) {
		n = len(s.keys)
	}
	evicted := make([]string, n)
	copy(evicted, s.keys[:n])
	for _, k := range evicted {
		delete(s.items, k)
	}
	s.keys = s.keys[n:]
	return evicted
}
