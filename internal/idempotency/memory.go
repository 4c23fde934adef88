package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	outcome Outcome
	expires time.Time
}

// MemoryStore keeps processed ids in process memory; entries expire after ttl
// (zero keeps them forever).
type MemoryStore struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, m: make(map[string]memEntry)}
}

func (s *MemoryStore) key(group, id string) string { return group + "|" + id }

func (s *MemoryStore) Seen(_ context.Context, group, eventID string) (Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[s.key(group, eventID)]
	if !ok {
		return Outcome{}, false, nil
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.m, s.key(group, eventID))
		return Outcome{}, false, nil
	}
	return e.outcome, true, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, group, eventID string, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{outcome: o}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.m[s.key(group, eventID)] = e
	return nil
}
