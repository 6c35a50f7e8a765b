package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"spreadarb/internal/domain/model"
	"spreadarb/internal/domain/service"
)

// Metrics 引擎指标，使用独立 registry
type Metrics struct {
	Registry *prometheus.Registry

	events          *prometheus.CounterVec
	activePositions prometheus.Gauge
	priceUpdates    *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadarb",
			Name:      "audit_events_total",
			Help:      "Audit events emitted by the execution engine.",
		}, []string{"type", "severity"}),
		activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spreadarb",
			Name:      "active_positions",
			Help:      "Positions in PENDING, OPENED or CLOSING.",
		}),
		priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadarb",
			Name:      "price_updates_total",
			Help:      "Price ticks applied to the cache.",
		}, []string{"venue", "kind"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadarb",
			Name:      "strategy_evaluations_total",
			Help:      "Strategy evaluations by outcome.",
		}, []string{"strategy", "outcome"}),
	}
	m.Registry.MustRegister(m.events, m.activePositions, m.priceUpdates, m.evaluations)
	return m
}

func (m *Metrics) SetActivePositions(n int) { m.activePositions.Set(float64(n)) }

func (m *Metrics) PriceUpdated(venue string, kind model.PriceKind) {
	m.priceUpdates.WithLabelValues(venue, string(kind)).Inc()
}

// Evaluated outcome: signal / idle / error
func (m *Metrics) Evaluated(strategy, outcome string) {
	m.evaluations.WithLabelValues(strategy, outcome).Inc()
}

// Audit 统计事件后转发给下游 sink
type Audit struct {
	m    *Metrics
	next service.AuditSink
}

func (m *Metrics) WrapAudit(next service.AuditSink) *Audit {
	return &Audit{m: m, next: next}
}

func (a *Audit) Record(ctx context.Context, ev model.Event) error {
	a.m.events.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
	if a.next == nil {
		return nil
	}
	return a.next.Record(ctx, ev)
}
