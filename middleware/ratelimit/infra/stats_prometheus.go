package infra

import (
	"context"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe as decisões como um CounterVec por rota e
// resultado. A key nunca vira label (cardinalidade).
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

// NewPrometheusStatsStore registra o coletor em reg. Com reg nil usa o
// registry padrão.
func NewPrometheusStatsStore(reg prometheus.Registerer, namespace string) (*PrometheusStatsStore, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by route and outcome.",
	}, []string{"route", "outcome"})

	if err := reg.Register(decisions); err != nil {
		return nil, err
	}
	return &PrometheusStatsStore{decisions: decisions}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := strings.TrimSpace(ev.Method + " " + ev.Path)
	s.decisions.WithLabelValues(route, ev.Outcome.String()).Inc()
	return nil
}

// Collector dá acesso ao CounterVec (testes e registries próprios).
func (s *PrometheusStatsStore) Collector() *prometheus.CounterVec { return s.decisions }

var (
	_ domain.StatsStore = (*PrometheusStatsStore)(nil)
	_ domain.StatsStore = (*RedisStatsStore)(nil)
	_ domain.StatsStore = (*MemoryStatsStore)(nil)
)
