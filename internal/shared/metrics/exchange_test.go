package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/radieske/betting-exchange/internal/shared/metrics"
)

func TestExchange_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewExchange(reg)

	m.Placed(3)
	m.Rejected("insufficient_funds")
	m.Matched("recheck")
	m.Matched("recheck")
	m.QueueDepth(7)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrdersPlaced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("insufficient_funds")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersMatched.WithLabelValues("recheck")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RecomputeQueue))
}

func TestExchange_NilIsNoop(t *testing.T) {
	var m *metrics.Exchange
	assert.NotPanics(t, func() {
		m.Placed(1)
		m.Rejected("x")
		m.Matched("placement")
		m.Cancelled(1)
		m.Recompute("ok")
		m.QueueDepth(1)
		m.Settlement("failed")
		m.OracleError("book")
	})
}
