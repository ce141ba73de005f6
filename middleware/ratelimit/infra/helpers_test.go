package infra

import (
	"errors"
	"testing"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func asStoreError(err error, target **domain.StoreError) bool {
	return errors.As(err, target)
}

// newTestRedis sobe um Redis em processo; o client fecha junto com o teste.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
