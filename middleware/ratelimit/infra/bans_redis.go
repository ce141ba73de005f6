package infra

import (
	"context"
	"errors"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisBanTracker conta estouros com INCR numa chave sem expiração: o ban é
// terminal e vale para todas as instâncias que compartilham o Redis.
type RedisBanTracker struct {
	rdb       redis.UniversalClient
	keys      redisKeyspace
	threshold int
}

// NewRedisBanTracker cria o tracker. prefix vazio usa DefaultRedisPrefix;
// compartilhar o prefixo com o RedisStore é seguro.
func NewRedisBanTracker(rdb redis.UniversalClient, threshold int, prefix string) (*RedisBanTracker, error) {
	if rdb == nil {
		return nil, errors.New("redis ban tracker: client is required")
	}
	return &RedisBanTracker{
		rdb:       rdb,
		keys:      newRedisKeyspace(prefix, kindBan),
		threshold: threshold,
	}, nil
}

func (b *RedisBanTracker) Threshold() int { return b.threshold }

func (b *RedisBanTracker) IsBanned(ctx context.Context, key domain.Key) (bool, error) {
	if b.threshold <= 0 {
		return false, nil
	}
	n, err := b.rdb.Get(ctx, b.keys.key(key)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StoreError{Op: "is_banned", Err: err}
	}
	return n > b.threshold, nil
}

func (b *RedisBanTracker) RecordExceed(ctx context.Context, key domain.Key) (bool, error) {
	if b.threshold <= 0 {
		return false, nil
	}
	n, err := b.rdb.Incr(ctx, b.keys.key(key)).Result()
	if err != nil {
		return false, &domain.StoreError{Op: "record_exceed", Err: err}
	}
	return n > int64(b.threshold), nil
}

func (b *RedisBanTracker) Child(route domain.RouteInfo) domain.BanTracker {
	return &RedisBanTracker{
		rdb:       b.rdb,
		keys:      b.keys.child(route),
		threshold: domain.BanThreshold(route.Policy),
	}
}

var _ domain.BanTracker = (*RedisBanTracker)(nil)
