package internal

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "mirror"

// Metrics holds the prometheus collectors fed by the telemetry hooks.
type Metrics struct {
	CacheReads     *prometheus.CounterVec
	MirrorFailures *prometheus.CounterVec
	CacheEnabled   prometheus.Gauge
	ThrottleDelay  prometheus.Gauge
	RestoreRecords *prometheus.CounterVec
	BackupRecords  *prometheus.GaugeVec
	SearchLatency  *prometheus.HistogramVec
}

// NewMetrics builds the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricCacheRead,
		}, []string{"entity", "outcome"}),
		MirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricMirrorFailure,
		}, []string{"entity", "op"}),
		CacheEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricCircuitEnabled,
		}),
		ThrottleDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricThrottleDelay,
		}),
		RestoreRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricRestoreRecords,
		}, []string{"entity", "outcome"}),
		BackupRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricBackupRecords,
		}, []string{"entity"}),
		SearchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      MetricSearchLatency,
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"entity", "found"}),
	}
}

// Register adds every collector to reg. Collectors already registered are
// not an error.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.CacheReads, m.MirrorFailures, m.CacheEnabled, m.ThrottleDelay,
		m.RestoreRecords, m.BackupRecords, m.SearchLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Emit translates a telemetry event into collector updates.
func (m *Metrics) Emit(_ context.Context, name string, labels map[string]string, value any) {
	v := toFloat(value)
	switch name {
	case MetricCacheRead:
		m.CacheReads.WithLabelValues(labels["entity"], labels["outcome"]).Add(v)
	case MetricMirrorFailure:
		m.MirrorFailures.WithLabelValues(labels["entity"], labels["op"]).Add(v)
	case MetricCircuitEnabled:
		m.CacheEnabled.Set(v)
	case MetricThrottleDelay:
		m.ThrottleDelay.Set(v)
	case MetricRestoreRecords:
		m.RestoreRecords.WithLabelValues(labels["entity"], labels["outcome"]).Add(v)
	case MetricBackupRecords:
		m.BackupRecords.WithLabelValues(labels["entity"]).Set(v)
	case MetricSearchLatency:
		m.SearchLatency.WithLabelValues(labels["entity"], labels["found"]).Observe(v)
	}
}

// InstallMetrics registers the collectors with reg and routes telemetry to them.
func InstallMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := NewMetrics(namespace)
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	m.CacheEnabled.Set(1)
	RegisterTelemetryEmitter(m.Emit)
	return m, nil
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
