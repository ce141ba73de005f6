package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrScript incrementa e, na primeira chamada da janela, define a expiração.
// Tudo roda no servidor numa única operação atômica.
var incrScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore é o adapter de janela fixa sobre Redis, compartilhado entre
// instâncias. Cada Increment é uma ida ao servidor; nada é cacheado localmente.
type RedisStore struct {
	rdb     redis.UniversalClient
	keys    redisKeyspace
	window  time.Duration
	timeout time.Duration
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix troca o prefixo comum (DefaultRedisPrefix). Use o mesmo do
// RedisBanTracker: o tipo da chave já separa contadores de bans.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.keys = newRedisKeyspace(prefix, kindCounter) }
}

// WithRedisTimeout limita cada ida ao Redis. 0 usa só o ctx do chamador.
func WithRedisTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

func NewRedisStore(rdb redis.UniversalClient, window time.Duration, opts ...RedisStoreOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis store: client is required")
	}
	if window < time.Millisecond {
		return nil, &domain.ConfigError{Field: "TimeWindow", Message: "must be at least 1ms for redis"}
	}
	s := &RedisStore{
		rdb:    rdb,
		keys:   newRedisKeyspace(DefaultRedisPrefix, kindCounter),
		window: window,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) Window() time.Duration { return s.window }

// Increment implementa domain.Store.
func (s *RedisStore) Increment(ctx context.Context, key domain.Key) (domain.ClientRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vals, err := incrScript.Run(ctx, s.rdb, []string{s.keys.key(key)}, s.window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.ClientRecord{}, &domain.StoreError{Op: "increment", Err: err}
	}
	if len(vals) != 2 {
		return domain.ClientRecord{}, &domain.StoreError{Op: "increment", Err: fmt.Errorf("unexpected script result length %d", len(vals))}
	}

	return domain.ClientRecord{
		Current: vals[0],
		TTL:     time.Duration(vals[1]) * time.Millisecond,
	}, nil
}

// Child usa o mesmo client com o escopo da rota, para que o contador da rota
// não colida com o global da mesma chave.
func (s *RedisStore) Child(route domain.RouteInfo) domain.Store {
	window := route.Policy.TimeWindow
	if window < time.Millisecond {
		window = s.window
	}
	return &RedisStore{
		rdb:     s.rdb,
		keys:    s.keys.child(route),
		window:  window,
		timeout: s.timeout,
	}
}

var _ domain.Store = (*RedisStore)(nil)
