package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestCeilSeconds(t *testing.T) {
	tests := map[time.Duration]int64{
		0:                       0,
		-time.Second:            0,
		200 * time.Millisecond:  1,
		time.Second:             1,
		1001 * time.Millisecond: 2,
	}
	for d, want := range tests {
		if got := ceilSeconds(d); got != want {
			t.Fatalf("ceilSeconds(%s) = %d, want %d", d, got, want)
		}
	}
}

func TestWriteRateHeaders_SkipsBan(t *testing.T) {
	h := http.Header{}
	writeRateHeaders(h, domain.Ban(), false)
	if len(h) != 0 {
		t.Fatalf("expected no headers for ban, got %v", h)
	}
}
