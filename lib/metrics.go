package lib

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the node in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server *http.Server  // the http prometheus server
	config MetricsConfig // the configuration
	log    LoggerI       // the logger

	ConsensusMetrics // consensus engine telemetry
	TxnMetrics       // transaction finalization telemetry
}

// ConsensusMetrics represents the telemetry of the consensus engine
type ConsensusMetrics struct {
	CommittedHeight prometheus.Gauge   // what's the highest committed height of this shard?
	CommittedBlocks prometheus.Counter // how many blocks has this node committed?
	DummyBlocks     prometheus.Counter // how many placeholder blocks were synthesized for missed heights?
	PledgeWaiters   prometheus.Gauge   // how many blocks are suspended waiting on a cross-shard pledge?
	LeaderFees      prometheus.Counter // total leader fees credited on commit
}

// TxnMetrics represents the telemetry of the transaction finalizer
type TxnMetrics struct {
	FinalizedTxns *prometheus.CounterVec // how many transactions reached each terminal status?
	ActiveWaiters prometheus.Gauge       // how many callers are blocked in the wait protocol?
}

// NewMetricsServer() creates a new telemetry server
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.Handler())
	return &Metrics{
		server: &http.Server{Addr: net.JoinHostPort("", config.MetricsPort), Handler: mux},
		config: config,
		log:    log,
		ConsensusMetrics: ConsensusMetrics{
			CommittedHeight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lattice_consensus_committed_height",
				Help: "Highest committed block height for this shard",
			}),
			CommittedBlocks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_consensus_committed_blocks",
				Help: "Total number of blocks committed",
			}),
			DummyBlocks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_consensus_dummy_blocks",
				Help: "Total number of placeholder blocks synthesized for missed heights",
			}),
			PledgeWaiters: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lattice_consensus_pledge_waiters",
				Help: "Blocks currently suspended on a cross-shard pledge",
			}),
			LeaderFees: promauto.NewCounter(prometheus.CounterOpts{
				Name: "lattice_consensus_leader_fees",
				Help: "Total leader fees credited on commit",
			}),
		},
		TxnMetrics: TxnMetrics{
			FinalizedTxns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "lattice_txn_finalized",
				Help: "Transactions that reached a terminal status",
			}, []string{"status"}),
			ActiveWaiters: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "lattice_txn_active_waiters",
				Help: "Callers currently blocked awaiting a transaction result",
			}),
		},
	}
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.MetricsEnabled {
		go func() {
			m.log.Infof("Starting metrics server on port %s", m.config.MetricsPort)
			// run the server
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// UpdateCommit() records a committed block; nil-safe so components may run untelemetered
func (m *Metrics) UpdateCommit(height uint64, dummy bool, leaderFee uint64) {
	if m == nil {
		return
	}
	m.CommittedHeight.Set(float64(height))
	m.CommittedBlocks.Inc()
	if dummy {
		m.DummyBlocks.Inc()
	}
	m.LeaderFees.Add(float64(leaderFee))
}

// PledgeWaitStarted() records a block suspending on a cross-shard pledge
func (m *Metrics) PledgeWaitStarted() {
	if m == nil {
		return
	}
	m.PledgeWaiters.Inc()
}

// PledgeWaitEnded() records a suspended block resuming or failing
func (m *Metrics) PledgeWaitEnded() {
	if m == nil {
		return
	}
	m.PledgeWaiters.Dec()
}

// TxnFinalized() records a transaction reaching a terminal status
func (m *Metrics) TxnFinalized(status string) {
	if m == nil {
		return
	}
	m.FinalizedTxns.WithLabelValues(status).Inc()
}

// WaiterStarted() records a caller entering the wait protocol
func (m *Metrics) WaiterStarted() {
	if m == nil {
		return
	}
	m.ActiveWaiters.Inc()
}

// WaiterEnded() records a caller leaving the wait protocol
func (m *Metrics) WaiterEnded() {
	if m == nil {
		return
	}
	m.ActiveWaiters.Dec()
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server isn't enabled
	if m.config.MetricsEnabled {
		// shutdown the server
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}
