package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Knock("win")
		m.Queue("q", "acked")
		m.ObserveHandle("q", time.Second)
	})
	assert.Nil(t, New(nil))
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.Knock("win")
	m.Knock("win")
	m.Knock("loss")
	m.Queue("knock:fulfillment", "dead")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.knocks.WithLabelValues("win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.knocks.WithLabelValues("loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queue.WithLabelValues("knock:fulfillment", "dead")))
}
