package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity é o número máximo de chaves distintas mantidas por escopo.
const DefaultCapacity = 5000

// LocalStore é o Store padrão: janela fixa por chave em um cache LRU limitado.
//
// Quando a capacidade estoura, a chave menos usada é descartada mesmo com
// janela ativa (a próxima rajada dela é subcontada). É limite de memória,
// não mecanismo de correção.
//
// Ordem de locks: mu do store antes do mu da entrada. Increment nunca segura o
// mu da entrada enquanto mexe no cache.
type LocalStore struct {
	mu    sync.Mutex
	cache *simplelru.LRU[domain.Key, *localEntry]
	// janitor é o contexto de StartJanitor, herdado pelos filhos.
	janitor DoneContext

	window       time.Duration
	capacity     int
	now          func() time.Time
	cleanupEvery time.Duration
}

// localEntry tem seu próprio mutex: incrementos da mesma chave são
// serializados sem travar as outras chaves.
type localEntry struct {
	mu        sync.Mutex
	current   int64
	expiresAt time.Time
	// removed é marcado pelo callback de evicção, que roda com o mu do store.
	removed atomic.Bool
}

type StoreOption func(*LocalStore)

func WithCapacity(n int) StoreOption {
	return func(s *LocalStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock troca o relógio (testes de janela sem sleep).
func WithClock(now func() time.Time) StoreOption {
	return func(s *LocalStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *LocalStore) { s.cleanupEvery = d }
}

// NewLocalStore cria um store para janelas de tamanho window.
func NewLocalStore(window time.Duration, opts ...StoreOption) (*LocalStore, error) {
	if window <= 0 {
		return nil, &domain.ConfigError{Field: "TimeWindow", Message: "must be > 0"}
	}
	s := &LocalStore{
		window:       window,
		capacity:     DefaultCapacity,
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := simplelru.NewLRU[domain.Key, *localEntry](s.capacity, func(_ domain.Key, ent *localEntry) {
		ent.removed.Store(true)
	})
	if err != nil {
		return nil, fmt.Errorf("local store cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *LocalStore) Window() time.Duration { return s.window }
func (s *LocalStore) Capacity() int         { return s.capacity }

func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Increment implementa domain.Store.
func (s *LocalStore) Increment(ctx context.Context, key domain.Key) (domain.ClientRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClientRecord{}, &domain.StoreError{Op: "increment", Err: err}
	}

	for {
		ent := s.entry(key)

		ent.mu.Lock()
		if ent.removed.Load() {
			// saiu do cache (janitor ou evicção) entre o lookup e o Lock
			ent.mu.Unlock()
			continue
		}
		now := s.now()
		if ent.current == 0 || !now.Before(ent.expiresAt) {
			ent.current = 0
			ent.expiresAt = now.Add(s.window)
		}
		ent.current++
		rec := domain.ClientRecord{Current: ent.current, TTL: ent.expiresAt.Sub(now)}
		ent.mu.Unlock()
		return rec, nil
	}
}

func (s *LocalStore) entry(key domain.Key) *localEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.cache.Get(key); ok {
		return ent
	}
	fresh := &localEntry{}
	s.cache.Add(key, fresh)
	return fresh
}

// Child cria um namespace isolado para a rota, com a janela da rota e a mesma
// capacidade e relógio do pai. Se o janitor do pai já roda, o filho ganha o
// seu com o mesmo contexto.
func (s *LocalStore) Child(route domain.RouteInfo) domain.Store {
	window := route.Policy.TimeWindow
	if window <= 0 {
		window = s.window
	}
	child, err := NewLocalStore(window,
		WithCapacity(s.capacity),
		WithClock(s.now),
		WithCleanupEvery(s.cleanupEvery),
	)
	if err != nil {
		// só falha com capacidade inválida, que o pai já validou
		panic(err)
	}

	s.mu.Lock()
	janitor := s.janitor
	s.mu.Unlock()
	if janitor != nil {
		child.StartJanitor(janitor)
	}
	return child
}

// Cleanup remove entradas com janela expirada. Increment já as trata como
// ausentes; isto só devolve memória antes da evicção por LRU.
//
// Peek e Remove rodam sob o mesmo lock do store, então a entrada removida é
// sempre a que foi checada.
func (s *LocalStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.cache.Keys() {
		ent, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		ent.mu.Lock()
		if !now.Before(ent.expiresAt) {
			s.cache.Remove(k)
		}
		ent.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que limpa janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *LocalStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	s.mu.Lock()
	started := s.janitor != nil
	s.janitor = ctx
	s.mu.Unlock()
	if started {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}

var _ domain.Store = (*LocalStore)(nil)
