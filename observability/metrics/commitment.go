package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CommitmentMetrics tracks the lifecycle of commitments processed by the
// engine.
type CommitmentMetrics struct {
	created     prometheus.Counter
	resolved    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	lockedStake prometheus.Gauge
}

var (
	commitmentOnce     sync.Once
	commitmentRegistry *CommitmentMetrics
)

// Commitments returns the process-wide commitment metrics registry.
func Commitments() *CommitmentMetrics {
	commitmentOnce.Do(func() {
		commitmentRegistry = &CommitmentMetrics{
			created: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "commitment_created_total",
				Help: "Count of commitments created with a locked stake.",
			}),
			resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "commitment_resolved_total",
				Help: "Count of terminal transitions by action and resulting status.",
			}, []string{"action", "status"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "commitment_rejected_total",
				Help: "Count of rejected transition requests by action and reason.",
			}, []string{"action", "reason"}),
			lockedStake: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "commitment_locked_stake",
				Help: "Stake currently held in custody, in base units.",
			}),
		}
		prometheus.MustRegister(
			commitmentRegistry.created,
			commitmentRegistry.resolved,
			commitmentRegistry.rejected,
			commitmentRegistry.lockedStake,
		)
	})
	return commitmentRegistry
}

// SetLockedStake resets the custody gauge to the ledger total, so that
// stakes locked before a restart are released against the right baseline.
func (m *CommitmentMetrics) SetLockedStake(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	m.lockedStake.Set(value)
}

func (m *CommitmentMetrics) ObserveCreated(stake uint64) {
	if m == nil {
		return
	}
	m.created.Inc()
	m.lockedStake.Add(float64(stake))
}

func (m *CommitmentMetrics) ObserveResolved(action, status string, stake uint64) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(labelOrUnknown(action), labelOrUnknown(status)).Inc()
	m.lockedStake.Sub(float64(stake))
}

func (m *CommitmentMetrics) ObserveRejected(action, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(labelOrUnknown(action), labelOrUnknown(reason)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
