// Package metrics exposes Prometheus instrumentation for the config
// client: request outcomes, retry behavior, probe rounds, and listener
// fan-out health.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics tracks the config client's interactions with the server
// and its subscribers.
//
// Labels:
//   - operation: "get_config", "publish_config", "remove_config", "listen"
//   - outcome: "success", "not_found", "unauthorized", "error", "canceled",
//     and for "listen" also "changed", "unchanged"
type ClientMetrics struct {
	// RequestsTotal counts finished requests by operation and outcome.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks request wall time by operation.
	RequestDuration *prometheus.HistogramVec

	// RetryAttemptsTotal counts retry attempts by operation.
	RetryAttemptsTotal *prometheus.CounterVec

	// ProbeRoundsTotal counts long-polling rounds by outcome
	// ("changed", "unchanged", "error").
	ProbeRoundsTotal *prometheus.CounterVec

	// ChangedKeysTotal counts keys the server reported as changed.
	ChangedKeysTotal prometheus.Counter

	// ListenerFailuresTotal counts subscriber callbacks that returned an
	// error, panicked, or overran the per-listener timeout.
	ListenerFailuresTotal prometheus.Counter

	// FanoutDuration tracks how long one change took to fan out to every
	// listener of its entry.
	FanoutDuration prometheus.Histogram

	// SnapshotWritesTotal counts snapshot persistence attempts by outcome
	// ("success", "error").
	SnapshotWritesTotal *prometheus.CounterVec
}

var (
	clientMetricsOnce     sync.Once
	clientMetricsInstance *ClientMetrics
)

// NewClientMetrics creates and registers the client metrics. Registration
// is a process-wide singleton so repeated construction of clients does not
// panic on duplicate registration.
func NewClientMetrics() *ClientMetrics {
	clientMetricsOnce.Do(func() {
		clientMetricsInstance = &ClientMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "client",
					Name:      "requests_total",
					Help:      "Finished config server requests by operation and outcome",
				},
				[]string{"operation", "outcome"},
			),

			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "nacos_config",
					Subsystem: "client",
					Name:      "request_duration_seconds",
					Help:      "Config server request duration",
					Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60},
				},
				[]string{"operation"},
			),

			RetryAttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "client",
					Name:      "retry_attempts_total",
					Help:      "Retry attempts by operation",
				},
				[]string{"operation"},
			),

			ProbeRoundsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "listener",
					Name:      "probe_rounds_total",
					Help:      "Long-polling probe rounds by outcome",
				},
				[]string{"outcome"},
			),

			ChangedKeysTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "listener",
					Name:      "changed_keys_total",
					Help:      "Configuration keys reported as changed by the server",
				},
			),

			ListenerFailuresTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "listener",
					Name:      "listener_failures_total",
					Help:      "Subscriber callbacks that failed or timed out",
				},
			),

			FanoutDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "nacos_config",
					Subsystem: "listener",
					Name:      "fanout_duration_seconds",
					Help:      "Time to deliver one change to all listeners of an entry",
					Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
				},
			),

			SnapshotWritesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "nacos_config",
					Subsystem: "storage",
					Name:      "snapshot_writes_total",
					Help:      "Snapshot persistence attempts by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return clientMetricsInstance
}
