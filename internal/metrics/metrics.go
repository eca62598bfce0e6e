// Package metrics exposes Prometheus instruments for the knock pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "knock"

type Metrics struct {
	interactions *prometheus.CounterVec
	knocks       *prometheus.CounterVec
	fulfillments *prometheus.CounterVec
	gifties      *prometheus.CounterVec
	queue        *prometheus.CounterVec
	handleTime   *prometheus.HistogramVec
}

// New registers the instruments with registry. A nil registry returns nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Inbound interactions by kind and result",
		}, []string{"kind", "result"}),
		knocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knocks_total",
			Help:      "Knock transactions by outcome",
		}, []string{"outcome"}),
		fulfillments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillments_total",
			Help:      "Fulfillment messages by outcome",
		}, []string{"outcome"}),
		gifties: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gifties_total",
			Help:      "Gifty send attempts by result",
		}, []string{"result"}),
		queue: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages by stream prefix and event",
		}, []string{"queue", "event"}),
		handleTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_handle_seconds",
			Help:      "Time spent handling one queue message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}
}

func (m *Metrics) Interaction(kind, result string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Knock(outcome string) {
	if m == nil {
		return
	}
	m.knocks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Fulfillment(outcome string) {
	if m == nil {
		return
	}
	m.fulfillments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Gifty(result string) {
	if m == nil {
		return
	}
	m.gifties.WithLabelValues(result).Inc()
}

// Queue counts a queue event: published, duplicate, acked, failed, dead.
func (m *Metrics) Queue(queue, event string) {
	if m == nil {
		return
	}
	m.queue.WithLabelValues(queue, event).Inc()
}

func (m *Metrics) ObserveHandle(queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.handleTime.WithLabelValues(queue).Observe(d.Seconds())
}
