// Package metrics exposes Prometheus metrics for the staking farm.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the farm.
type Metrics struct {
	// Counters
	OperationsTotal *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec

	// Histograms
	OperationDuration *prometheus.HistogramVec
	RPCLatency        *prometheus.HistogramVec

	// Gauges
	CycleState    *prometheus.GaugeVec
	InFlight      prometheus.Gauge
	NativeBalance *prometheus.GaugeVec
}

// New creates and registers all farm metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakefarm_operations_total",
				Help: "Completed operation attempts by kind and status",
			},
			[]string{"kind", "status"},
		),

		ApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakefarm_approvals_total",
				Help: "Allowance approval transactions by status",
			},
			[]string{"status"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakefarm_operation_duration_seconds",
				Help:    "Wall time of one operation attempt, precondition through receipt",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakefarm_rpc_latency_seconds",
				Help:    "Chain RPC call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status"},
		),

		CycleState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stakefarm_cycle_state",
				Help: "Current cycle state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakefarm_in_flight_operations",
				Help: "Operations started and not yet completed",
			},
		),

		NativeBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stakefarm_wallet_native_balance_gwei",
				Help: "Last observed native balance per wallet, in gwei",
			},
			[]string{"wallet"},
		),
	}
}

// RecordOperation records a completed operation attempt.
func (m *Metrics) RecordOperation(kind, status string) {
	m.OperationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordApproval records an approval transaction outcome.
func (m *Metrics) RecordApproval(status string) {
	m.ApprovalsTotal.WithLabelValues(status).Inc()
}

// RecordOperationDuration records the wall time of one operation attempt.
func (m *Metrics) RecordOperationDuration(kind string, seconds float64) {
	m.OperationDuration.WithLabelValues(kind).Observe(seconds)
}

// knownMethods is a fixed set of RPC methods to prevent cardinality explosion.
var knownMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_getBalance":            true,
	"eth_gasPrice":              true,
	"eth_maxPriorityFeePerGas":  true,
	"eth_getBlockByNumber":      true,
	"eth_getTransactionReceipt": true,
	"eth_call":                  true,
}

// RecordRPCLatency records a chain RPC call.
func (m *Metrics) RecordRPCLatency(method string, success bool, seconds float64) {
	bucketed := method
	if !knownMethods[method] {
		bucketed = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketed, status).Observe(seconds)
}

// SetCycleState updates the cycle state gauges so exactly one state is 1.
func (m *Metrics) SetCycleState(state string) {
	for _, s := range []string{"idle", "running", "stopping"} {
		if s == state {
			m.CycleState.WithLabelValues(s).Set(1)
		} else {
			m.CycleState.WithLabelValues(s).Set(0)
		}
	}
}

// SetInFlight updates the in-flight operations gauge.
func (m *Metrics) SetInFlight(count int) {
	m.InFlight.Set(float64(count))
}

// SetNativeBalance updates a wallet's native balance gauge.
func (m *Metrics) SetNativeBalance(wallet string, gwei float64) {
	m.NativeBalance.WithLabelValues(wallet).Set(gwei)
}
