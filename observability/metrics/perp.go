package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PerpMetrics publishes risk engine activity. It satisfies the engine's
// Metrics interface so the host can wire it with Engine.SetMetrics.
type PerpMetrics struct {
	tradesExecuted     prometheus.Counter
	liquidations       prometheus.Counter
	lossSocialized     prometheus.Counter
	riskReductionMode  prometheus.Gauge
	insuranceBalance   prometheus.Gauge
	accountsInUse      prometheus.Gauge
	crankLagSlots      prometheus.Gauge
}

var (
	perpOnce     sync.Once
	perpRegistry *PerpMetrics
)

// Perp returns the process-wide engine metrics, registering the collectors on
// first use.
func Perp() *PerpMetrics {
	perpOnce.Do(func() {
		perpRegistry = &PerpMetrics{
			tradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perp_trades_executed_total",
				Help: "Count of committed trades.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perp_liquidations_total",
				Help: "Count of forced position closes.",
			}),
			lossSocialized: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "perp_loss_socialized_units_total",
				Help: "Cumulative loss residue socialized across positive PnL.",
			}),
			riskReductionMode: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perp_risk_reduction_mode",
				Help: "1 while the engine rejects position-increasing operations.",
			}),
			insuranceBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perp_insurance_balance_units",
				Help: "Current insurance fund balance.",
			}),
			accountsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perp_accounts_in_use",
				Help: "Occupied account slots.",
			}),
			crankLagSlots: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "perp_crank_lag_slots",
				Help: "Slots since the last keeper crank at observation time.",
			}),
		}
		prometheus.MustRegister(
			perpRegistry.tradesExecuted,
			perpRegistry.liquidations,
			perpRegistry.lossSocialized,
			perpRegistry.riskReductionMode,
			perpRegistry.insuranceBalance,
			perpRegistry.accountsInUse,
			perpRegistry.crankLagSlots,
		)
	})
	return perpRegistry
}

// TradeExecuted increments the trade counter.
func (m *PerpMetrics) TradeExecuted() { m.tradesExecuted.Inc() }

// AccountLiquidated increments the liquidation counter.
func (m *PerpMetrics) AccountLiquidated() { m.liquidations.Inc() }

// LossSocialized accumulates haircut units; values beyond the float domain
// saturate at the conversion.
func (m *PerpMetrics) LossSocialized(units *big.Int) {
	f, _ := new(big.Float).SetInt(units).Float64()
	m.lossSocialized.Add(f)
}

// RiskReductionMode flags the crisis mode gauge.
func (m *PerpMetrics) RiskReductionMode(active bool) {
	if active {
		m.riskReductionMode.Set(1)
		return
	}
	m.riskReductionMode.Set(0)
}

// InsuranceBalance samples the insurance fund.
func (m *PerpMetrics) InsuranceBalance(units *big.Int) {
	f, _ := new(big.Float).SetInt(units).Float64()
	m.insuranceBalance.Set(f)
}

// AccountsInUse samples slot occupancy.
func (m *PerpMetrics) AccountsInUse(n uint64) {
	m.accountsInUse.Set(float64(n))
}

// CrankLagSlots samples keeper freshness.
func (m *PerpMetrics) CrankLagSlots(n uint64) {
	m.crankLagSlots.Set(float64(n))
}
