package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientMetrics_Singleton(t *testing.T) {
	first := NewClientMetrics()
	second := NewClientMetrics()
	require.NotNil(t, first)
	assert.Same(t, first, second, "repeated construction must not re-register")
}

func TestClientMetrics_Record(t *testing.T) {
	m := NewClientMetrics()

	before := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_config", "success"))
	m.RequestsTotal.WithLabelValues("get_config", "success").Inc()
	after := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_config", "success"))
	assert.Equal(t, before+1, after)

	m.RequestDuration.WithLabelValues("get_config").Observe(0.05)
	m.RetryAttemptsTotal.WithLabelValues("get_config").Inc()
	m.ProbeRoundsTotal.WithLabelValues("unchanged").Inc()
	m.ChangedKeysTotal.Add(2)
	m.ListenerFailuresTotal.Inc()
	m.FanoutDuration.Observe(0.01)
	m.SnapshotWritesTotal.WithLabelValues("success").Inc()
}
