// Copyright 2025 Certen Protocol
package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus instrumentation on a dedicated
// registry, matching the teacher's direct dependency on
// prometheus/client_golang rather than a global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	Height      prometheus.Gauge
	Round       prometheus.Gauge
	Step        *prometheus.GaugeVec
	VotesTotal  *prometheus.CounterVec
	MempoolSize prometheus.Gauge
	TxApplied   prometheus.Counter
	TxRejected  prometheus.Counter
	Slashes     *prometheus.CounterVec
}

// NewMetrics constructs and registers the node's metric collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aureum", Name: "consensus_height", Help: "Current consensus height.",
		}),
		Round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aureum", Name: "consensus_round", Help: "Current round within the height.",
		}),
		Step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aureum", Name: "consensus_step", Help: "1 for the current step, 0 otherwise, labeled by step name.",
		}, []string{"step"}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aureum", Name: "consensus_votes_total", Help: "Votes processed, labeled by step.",
		}, []string{"step"}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aureum", Name: "mempool_size", Help: "Pending transactions in the mempool.",
		}),
		TxApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aureum", Name: "tx_applied_total", Help: "Transactions applied during Commit.",
		}),
		TxRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aureum", Name: "tx_rejected_total", Help: "Transactions rejected during Commit.",
		}),
		Slashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aureum", Name: "slashes_total", Help: "Validator slashing events, labeled by cause.",
		}, []string{"cause"}),
	}
	reg.MustRegister(m.Height, m.Round, m.Step, m.VotesTotal, m.MempoolSize, m.TxApplied, m.TxRejected, m.Slashes)
	return m
}

// observeStep sets Step's gauge for the active step to 1 and every other
// step to 0, so a single time series per step name stays queryable.
func (m *Metrics) observeStep(active string) {
	for _, s := range []string{"propose", "prevote", "precommit", "commit"} {
		if s == active {
			m.Step.WithLabelValues(s).Set(1)
		} else {
			m.Step.WithLabelValues(s).Set(0)
		}
	}
}
