package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exchange agrupa os coletores do núcleo da exchange.
// Métodos em um *Exchange nil não fazem nada.
type Exchange struct {
	OrdersPlaced    prometheus.Counter
	OrdersRejected  *prometheus.CounterVec // reason
	OrdersMatched   *prometheus.CounterVec // source: placement | recheck
	OrdersCancelled prometheus.Counter
	RecomputeRuns   *prometheus.CounterVec // result: ok | retry | failed
	RecomputeQueue  prometheus.Gauge
	Settlements     *prometheus.CounterVec // result: settled | skipped | failed
	OracleErrors    *prometheus.CounterVec // op
}

// NewExchange cria e registra os coletores em reg.
func NewExchange(reg prometheus.Registerer) *Exchange {
	m := &Exchange{
		OrdersPlaced:    prometheus.NewCounter(prometheus.CounterOpts{Name: "exchange_orders_placed_total", Help: "ordens aceitas"}),
		OrdersRejected:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_orders_rejected_total", Help: "lotes recusados por motivo"}, []string{"reason"}),
		OrdersMatched:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_orders_matched_total", Help: "ordens casadas por origem"}, []string{"source"}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{Name: "exchange_orders_cancelled_total", Help: "ordens canceladas"}),
		RecomputeRuns:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_recompute_runs_total", Help: "recálculos de responsabilidade por resultado"}, []string{"result"}),
		RecomputeQueue:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "exchange_recompute_queue_depth", Help: "usuários aguardando recálculo"}),
		Settlements:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_settlements_total", Help: "liquidações por usuário e resultado"}, []string{"result"}),
		OracleErrors:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_oracle_errors_total", Help: "falhas do oráculo de preços por operação"}, []string{"op"}),
	}
	reg.MustRegister(m.OrdersPlaced, m.OrdersRejected, m.OrdersMatched, m.OrdersCancelled,
		m.RecomputeRuns, m.RecomputeQueue, m.Settlements, m.OracleErrors)
	return m
}

func (m *Exchange) Placed(n int) {
	if m != nil {
		m.OrdersPlaced.Add(float64(n))
	}
}

func (m *Exchange) Rejected(reason string) {
	if m != nil {
		m.OrdersRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Exchange) Matched(source string) {
	if m != nil {
		m.OrdersMatched.WithLabelValues(source).Inc()
	}
}

func (m *Exchange) Cancelled(n int) {
	if m != nil {
		m.OrdersCancelled.Add(float64(n))
	}
}

func (m *Exchange) Recompute(result string) {
	if m != nil {
		m.RecomputeRuns.WithLabelValues(result).Inc()
	}
}

func (m *Exchange) QueueDepth(n int) {
	if m != nil {
		m.RecomputeQueue.Set(float64(n))
	}
}

func (m *Exchange) Settlement(result string) {
	if m != nil {
		m.Settlements.WithLabelValues(result).Inc()
	}
}

func (m *Exchange) OracleError(op string) {
	if m != nil {
		m.OracleErrors.WithLabelValues(op).Inc()
	}
}
