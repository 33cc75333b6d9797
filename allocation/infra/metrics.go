package infra

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"seat-gateway/allocation/domain"
)

// Metrics exporta o estado do pool para Prometheus.
//
// É ao mesmo tempo assinante do Emitter (gauges de restante/sequência, commits)
// e StatsStore (desfechos por operação). Eventos duplicados são ignorados pela sequência.
type Metrics struct {
	remaining    prometheus.Gauge
	capacity     prometheus.Gauge
	lastSequence prometheus.Gauge
	commits      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec

	mu      sync.Mutex
	lastSeq uint64
}

func NewMetrics(reg prometheus.Registerer, poolName string) (*Metrics, error) {
	labels := prometheus.Labels{"pool": poolName}
	m := &Metrics{
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seats", Name: "remaining",
			Help: "Units still available in the pool.", ConstLabels: labels,
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seats", Name: "capacity",
			Help: "Fixed pool capacity.", ConstLabels: labels,
		}),
		lastSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seats", Name: "last_sequence",
			Help: "Sequence of the last delivered commit event.", ConstLabels: labels,
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seats", Name: "commits_total",
			Help: "Committed state transitions by kind.", ConstLabels: labels,
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seats", Name: "requests_total",
			Help: "Request outcomes by operation.", ConstLabels: labels,
		}, []string{"operation", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.remaining, m.capacity, m.lastSequence, m.commits, m.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Prime inicializa os gauges com um snapshot (ex.: depois do replay).
func (m *Metrics) Prime(s domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity.Set(float64(s.Capacity))
	m.remaining.Set(float64(s.Remaining))
	m.lastSequence.Set(float64(s.LastSequence))
	m.lastSeq = s.LastSequence
}

// Handle implementa domain.Subscriber.
func (m *Metrics) Handle(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Sequence <= m.lastSeq {
		return nil
	}
	m.lastSeq = ev.Sequence
	m.remaining.Set(float64(ev.Remaining))
	m.capacity.Set(float64(ev.Capacity))
	m.lastSequence.Set(float64(ev.Sequence))
	m.commits.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	m.outcomes.WithLabelValues(ev.Operation, string(ev.Outcome)).Inc()
	return nil
}
