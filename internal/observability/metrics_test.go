package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.EventsCreated.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.EventsCreated))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsCreated))
}

func TestMetrics_RegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsForTesting()
	require.NoError(t, reg.Register(m.CyclesTotal))

	m.CyclesTotal.WithLabelValues("success").Inc()
	assert.Equal(t, 1, testutil.CollectAndCount(m.CyclesTotal))
}
