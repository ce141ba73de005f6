package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustLocalStore(t *testing.T, window time.Duration, opts ...StoreOption) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(window, opts...)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return s
}

func TestLocalStore_CountsWithinWindow(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Second, WithClock(clk.Now))

	for i := int64(1); i <= 3; i++ {
		rec, err := s.Increment(context.Background(), "k")
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if rec.Current != i {
			t.Fatalf("expected current=%d, got %d", i, rec.Current)
		}
		clk.Advance(100 * time.Millisecond)
	}

	rec, _ := s.Increment(context.Background(), "k")
	if rec.TTL != 700*time.Millisecond {
		t.Fatalf("expected ttl=700ms, got %s", rec.TTL)
	}
}

func TestLocalStore_ExpiredWindowRestarts(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Second, WithClock(clk.Now))

	for i := 0; i < 5; i++ {
		_, _ = s.Increment(context.Background(), "k")
	}

	clk.Advance(time.Second)

	rec, err := s.Increment(context.Background(), "k")
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if rec.Current != 1 {
		t.Fatalf("expected window to restart at 1, got %d", rec.Current)
	}
	if rec.TTL != time.Second {
		t.Fatalf("expected full ttl after restart, got %s", rec.TTL)
	}
}

func TestLocalStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := mustLocalStore(t, time.Minute, WithCapacity(2))

	_, _ = s.Increment(context.Background(), "a")
	_, _ = s.Increment(context.Background(), "a")
	_, _ = s.Increment(context.Background(), "b")
	_, _ = s.Increment(context.Background(), "a") // a passa a ser o mais recente
	_, _ = s.Increment(context.Background(), "c") // expulsa b

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}

	rec, _ := s.Increment(context.Background(), "b")
	if rec.Current != 1 {
		t.Fatalf("expected evicted key to restart at 1, got %d", rec.Current)
	}
	// b entrou e expulsou a (c foi usado depois de a)
	rec, _ = s.Increment(context.Background(), "c")
	if rec.Current != 2 {
		t.Fatalf("expected c to keep its count, got %d", rec.Current)
	}
}

func TestLocalStore_ConcurrentIncrementsAreGapless(t *testing.T) {
	s := mustLocalStore(t, time.Minute)

	const n = 200
	seen := make([]bool, n+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.Increment(context.Background(), "hot")
			if err != nil {
				t.Errorf("Increment() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if rec.Current < 1 || rec.Current > n || seen[rec.Current] {
				t.Errorf("unexpected or duplicated current=%d", rec.Current)
				return
			}
			seen[rec.Current] = true
		}()
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing current=%d", i)
		}
	}
}

func TestLocalStore_ChildIsIsolated(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Minute, WithClock(clk.Now), WithCapacity(10))

	child := s.Child(domain.RouteInfo{
		Method: "GET",
		Path:   "/login",
		Policy: domain.Policy{TimeWindow: time.Second},
	})

	_, _ = s.Increment(context.Background(), "k")
	_, _ = s.Increment(context.Background(), "k")

	rec, err := child.Increment(context.Background(), "k")
	if err != nil {
		t.Fatalf("child Increment() error = %v", err)
	}
	if rec.Current != 1 {
		t.Fatalf("expected child counter to start at 1, got %d", rec.Current)
	}
	if rec.TTL != time.Second {
		t.Fatalf("expected child to use route window, got %s", rec.TTL)
	}

	ls, ok := child.(*LocalStore)
	if !ok {
		t.Fatalf("expected *LocalStore child, got %T", child)
	}
	if ls.Capacity() != 10 {
		t.Fatalf("expected child to inherit capacity, got %d", ls.Capacity())
	}
}

func TestLocalStore_CleanupRemovesExpiredEntries(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Second, WithClock(clk.Now), WithCleanupEvery(0))

	_, _ = s.Increment(context.Background(), "old")
	clk.Advance(600 * time.Millisecond)
	_, _ = s.Increment(context.Background(), "new")
	clk.Advance(500 * time.Millisecond)

	s.Cleanup()

	if s.Len() != 1 {
		t.Fatalf("expected only the live entry to remain, got %d", s.Len())
	}
	rec, _ := s.Increment(context.Background(), "new")
	if rec.Current != 2 {
		t.Fatalf("expected live entry to keep counting, got %d", rec.Current)
	}
}

func TestLocalStore_CanceledContextIsStoreError(t *testing.T) {
	s := mustLocalStore(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Increment(ctx, "k")
	var se *domain.StoreError
	if err == nil || !asStoreError(err, &se) {
		t.Fatalf("expected *domain.StoreError, got %v", err)
	}
}

func TestNewLocalStore_RejectsInvalidWindow(t *testing.T) {
	if _, err := NewLocalStore(0); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestLocalStore_EvictedEntryIsMarkedRemoved(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Minute, WithClock(clk.Now), WithCapacity(1))

	_, _ = s.Increment(context.Background(), "a")
	stale := s.entry("a")

	_, _ = s.Increment(context.Background(), "b")
	if !stale.removed.Load() {
		t.Fatalf("expected evicted entry to be marked removed")
	}

	rec, err := s.Increment(context.Background(), "a")
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if rec.Current != 1 {
		t.Fatalf("expected a fresh window after eviction, got %d", rec.Current)
	}
	if s.entry("a") == stale {
		t.Fatalf("expected a new entry after eviction")
	}
}

func TestLocalStore_CleanupKeepsLiveEntriesUnderChurn(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Minute, WithClock(clk.Now), WithCapacity(8), WithCleanupEvery(0))

	// entradas expiradas para o Cleanup ter o que remover
	for _, k := range []domain.Key{"x1", "x2", "x3"} {
		_, _ = s.Increment(context.Background(), k)
	}
	clk.Advance(2 * time.Minute)

	const n = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Cleanup()
		}
	}()

	var last int64
	for i := 0; i < n; i++ {
		rec, err := s.Increment(context.Background(), "live")
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if rec.Current != last+1 {
			t.Fatalf("live counter reset mid-window: got %d after %d", rec.Current, last)
		}
		last = rec.Current
	}
	<-done
}

func TestLocalStore_ChildInheritsJanitor(t *testing.T) {
	clk := newFakeClock()
	s := mustLocalStore(t, time.Second, WithClock(clk.Now), WithCleanupEvery(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx)

	child := s.Child(domain.RouteInfo{Method: "GET", Path: "/x", Policy: domain.Policy{TimeWindow: time.Second}}).(*LocalStore)
	_, _ = child.Increment(context.Background(), "k")
	if child.Len() != 1 {
		t.Fatalf("expected one child entry, got %d", child.Len())
	}

	clk.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for child.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected child janitor to drop the expired entry, still have %d", child.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
