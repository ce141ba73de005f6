package application

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// countingStore é um Store em memória sem expiração, suficiente para exercitar
// o orquestrador.
type countingStore struct {
	mu     sync.Mutex
	counts map[domain.Key]int64
	calls  int
	ttl    time.Duration
	err    error
	route  *domain.RouteInfo
}

func newCountingStore(ttl time.Duration) *countingStore {
	return &countingStore{counts: make(map[domain.Key]int64), ttl: ttl}
}

func (s *countingStore) Increment(_ context.Context, key domain.Key) (domain.ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.ClientRecord{}, &domain.StoreError{Op: "increment", Err: s.err}
	}
	s.counts[key]++
	return domain.ClientRecord{Current: s.counts[key], TTL: s.ttl}, nil
}

func (s *countingStore) Child(route domain.RouteInfo) domain.Store {
	c := newCountingStore(route.Policy.TimeWindow)
	c.route = &route
	return c
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mapBans struct {
	mu        sync.Mutex
	threshold int
	states    map[domain.Key]domain.BanState
	err       error
}

func newMapBans(threshold int) *mapBans {
	return &mapBans{threshold: threshold, states: make(map[domain.Key]domain.BanState)}
}

func (b *mapBans) IsBanned(_ context.Context, key domain.Key) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, &domain.StoreError{Op: "is_banned", Err: b.err}
	}
	return b.states[key].Banned, nil
}

func (b *mapBans) RecordExceed(_ context.Context, key domain.Key) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, &domain.StoreError{Op: "record_exceed", Err: b.err}
	}
	next := b.states[key].Exceed(b.threshold)
	b.states[key] = next
	return next.Banned, nil
}

func (b *mapBans) Child(route domain.RouteInfo) domain.BanTracker {
	return newMapBans(domain.BanThreshold(route.Policy))
}
