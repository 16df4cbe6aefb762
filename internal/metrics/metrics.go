// Package metrics exposes Prometheus instruments for verification and key
// backup activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification outcomes.
const (
	OutcomeDone      = "done"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Metrics holds the instruments registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	verifications   *prometheus.CounterVec
	backupOps       *prometheus.CounterVec
	pendingSessions prometheus.Gauge
	restoredKeys    prometheus.Counter
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_verifications_total",
				Help: "Interactive verifications by final outcome",
			},
			[]string{"outcome"},
		),
		backupOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_backup_operations_total",
				Help: "Key backup operations by operation and result",
			},
			[]string{"op", "result"},
		),
		pendingSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustkit_backup_sessions_pending",
			Help: "Group sessions not yet uploaded to the current backup version",
		}),
		restoredKeys: f.NewCounter(prometheus.CounterOpts{
			Name: "trustkit_backup_restored_keys_total",
			Help: "Session keys imported from key backups",
		}),
	}
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Verification counts one finished verification.
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// BackupOp counts one backup operation; err decides the result label.
func (m *Metrics) BackupOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.backupOps.WithLabelValues(op, result).Inc()
}

// SetPendingSessions records the number of sessions awaiting upload.
func (m *Metrics) SetPendingSessions(n int) {
	if m == nil {
		return
	}
	m.pendingSessions.Set(float64(n))
}

// RestoredKeys adds n imported keys.
func (m *Metrics) RestoredKeys(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.restoredKeys.Add(float64(n))
}

// WriteFile dumps the registry in the text exposition format, for the node
// exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
