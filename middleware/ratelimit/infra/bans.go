package infra

import (
	"context"
	"fmt"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBanTracker guarda o BanState por chave num LRU com o mesmo limite de
// memória do LocalStore: uma chave banida pode ser esquecida por evicção.
type MemoryBanTracker struct {
	threshold int
	capacity  int
	states    *lru.Cache[domain.Key, *banEntry]
}

type banEntry struct {
	mu    sync.Mutex
	state domain.BanState
}

// NewMemoryBanTracker cria o tracker. threshold <= 0 desabilita o banimento.
func NewMemoryBanTracker(threshold, capacity int) (*MemoryBanTracker, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	states, err := lru.New[domain.Key, *banEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("ban tracker cache: %w", err)
	}
	return &MemoryBanTracker{threshold: threshold, capacity: capacity, states: states}, nil
}

func (b *MemoryBanTracker) Threshold() int { return b.threshold }

func (b *MemoryBanTracker) IsBanned(_ context.Context, key domain.Key) (bool, error) {
	if b.threshold <= 0 {
		return false, nil
	}
	ent, ok := b.states.Get(key)
	if !ok {
		return false, nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.state.Banned, nil
}

func (b *MemoryBanTracker) RecordExceed(_ context.Context, key domain.Key) (bool, error) {
	if b.threshold <= 0 {
		return false, nil
	}
	ent, ok := b.states.Get(key)
	if !ok {
		fresh := &banEntry{}
		if prev, found, _ := b.states.PeekOrAdd(key, fresh); found {
			ent = prev
		} else {
			ent = fresh
		}
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	ent.state = ent.state.Exceed(b.threshold)
	return ent.state.Banned, nil
}

// State devolve o estado atual da chave (zero se nunca estourou).
func (b *MemoryBanTracker) State(key domain.Key) domain.BanState {
	ent, ok := b.states.Peek(key)
	if !ok {
		return domain.BanState{}
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.state
}

func (b *MemoryBanTracker) Child(route domain.RouteInfo) domain.BanTracker {
	child, err := NewMemoryBanTracker(domain.BanThreshold(route.Policy), b.capacity)
	if err != nil {
		panic(err)
	}
	return child
}

var _ domain.BanTracker = (*MemoryBanTracker)(nil)
