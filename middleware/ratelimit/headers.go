package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type headerNames struct {
	limit, remaining, reset string
}

var (
	standardHeaders = headerNames{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	draftHeaders    = headerNames{"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"}
)

// writeRateHeaders traduz a decisão para headers. Chaves isentas e banidas
// não recebem headers de quota.
func writeRateHeaders(h http.Header, dec domain.Decision, draft bool) {
	if dec.Exempt || dec.Outcome == domain.OutcomeBan {
		return
	}
	names := standardHeaders
	if draft {
		names = draftHeaders
	}
	h.Set(names.limit, formatInt(dec.Max))
	h.Set(names.remaining, formatInt(dec.Remaining))
	h.Set(names.reset, formatInt(ceilSeconds(dec.TTL)))
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// ceilSeconds arredonda para cima: 200ms restantes ainda são "1".
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
