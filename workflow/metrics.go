package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics is safe to use as a nil pointer; every method is then a no-op.
type StockMetrics struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	allocations         *prometheus.CounterVec
	lockWait            *prometheus.HistogramVec
	orderTransitions    *prometheus.CounterVec
	incomingTransitions *prometheus.CounterVec
	outboxPublished     *prometheus.CounterVec
}

func NewStockMetrics(reg prometheus.Registerer, namespace string) *StockMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ims"
	}
	m := &StockMetrics{reg: reg, namespace: namespace}
	m.ensureRegistered()
	return m
}

func (m *StockMetrics) ensureRegistered() {
	m.once.Do(func() {
		m.allocations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "allocation_total",
			Help:      "Allocation attempts by source and result.",
		}, []string{"source", "result"})
		m.lockWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a stock key lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"backend", "result"})
		m.orderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "order",
			Name:      "transition_total",
			Help:      "Order status transitions by from/to status and result.",
		}, []string{"from", "to", "result"})
		m.incomingTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "incoming",
			Name:      "transition_total",
			Help:      "Incoming allocation status transitions by from/to status and result.",
		}, []string{"from", "to", "result"})
		m.outboxPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Stock event publish attempts by result.",
		}, []string{"result"})

		m.reg.MustRegister(m.allocations)
		m.reg.MustRegister(m.lockWait)
		m.reg.MustRegister(m.orderTransitions)
		m.reg.MustRegister(m.incomingTransitions)
		m.reg.MustRegister(m.outboxPublished)
	})
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := errorKindLabel(err); kind != "" {
		return kind
	}
	return "error"
}

func (m *StockMetrics) ObserveAllocation(source string, err error) {
	if m == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	m.allocations.WithLabelValues(source, resultLabel(err)).Inc()
}

func (m *StockMetrics) ObserveLockWait(backend string, waited time.Duration, err error) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(backend, resultLabel(err)).Observe(waited.Seconds())
}

func (m *StockMetrics) ObserveOrderTransition(from, to string, err error) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to, resultLabel(err)).Inc()
}

func (m *StockMetrics) ObserveIncomingTransition(from, to string, err error) {
	if m == nil {
		return
	}
	m.incomingTransitions.WithLabelValues(from, to, resultLabel(err)).Inc()
}

func (m *StockMetrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(resultLabel(err)).Inc()
}
