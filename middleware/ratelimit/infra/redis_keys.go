package infra

import (
	"fmt"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// DefaultRedisPrefix é o prefixo comum de contadores e bans.
const DefaultRedisPrefix = "ratelimit"

const (
	kindCounter = "c"
	kindBan     = "b"
	scopeGlobal = "g"
)

// redisKeyspace monta chaves no formato <prefix>:<kind>:<scope>:<key>.
//
// kind e scope têm tamanho fixo e nunca contêm ':', e a chave do cliente é
// sempre o último segmento. Assim uma chave como "b:g:x" não alcança o ban de
// "x" nem o contador de uma rota.
type redisKeyspace struct {
	prefix string
	kind   string
	scope  string
}

func newRedisKeyspace(prefix, kind string) redisKeyspace {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return redisKeyspace{prefix: prefix, kind: kind, scope: scopeGlobal}
}

func (ks redisKeyspace) child(route domain.RouteInfo) redisKeyspace {
	ks.scope = routeScope(route)
	return ks
}

func (ks redisKeyspace) key(k domain.Key) string {
	return ks.prefix + ":" + ks.kind + ":" + ks.scope + ":" + string(k)
}

// routeScope identifica a rota por um hash de "METHOD path": o path pode ter
// ':' (parâmetros) e não entra na chave.
func routeScope(route domain.RouteInfo) string {
	return fmt.Sprintf("r%016x", xxhash.Sum64String(strings.ToUpper(route.Method)+" "+route.Path))
}
