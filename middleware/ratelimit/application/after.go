package application

import (
	"fmt"
	"math"
	"time"
)

var afterUnits = []struct {
	d    time.Duration
	name string
}{
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
}

// humanizeTTL formata o TTL por extenso, arredondando para a maior unidade
// cabível: 1000ms -> "1 second", 90s -> "2 minutes", 500ms -> "500 ms".
func humanizeTTL(ttl time.Duration) string {
	ttl = ttl.Round(time.Millisecond)
	if ttl < 0 {
		ttl = 0
	}
	for _, u := range afterUnits {
		if ttl < u.d {
			continue
		}
		n := int64(math.Round(float64(ttl) / float64(u.d)))
		if ttl >= u.d+u.d/2 {
			return fmt.Sprintf("%d %ss", n, u.name)
		}
		return fmt.Sprintf("%d %s", n, u.name)
	}
	return fmt.Sprintf("%d ms", ttl.Milliseconds())
}
