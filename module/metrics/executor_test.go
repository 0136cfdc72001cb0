package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMaxIncarnationIsHighWaterMark(t *testing.T) {
	c := NewExecutorCollector(prometheus.NewRegistry())

	c.TransactionAborted(3, 2)
	c.TransactionAborted(7, 5)
	// A lower incarnation aborting later must not regress the gauge.
	c.TransactionAborted(1, 1)

	assert.Equal(t, 5.0, promtest.ToFloat64(c.maxIncarnation))
	assert.Equal(t, 3.0, promtest.ToFloat64(c.transactionsAborted))
}

func TestTransactionExecutedLabelsOutcome(t *testing.T) {
	c := NewExecutorCollector(prometheus.NewRegistry())

	c.TransactionExecuted(time.Millisecond, false)
	c.TransactionExecuted(time.Millisecond, false)
	c.TransactionExecuted(time.Millisecond, true)

	assert.Equal(t, 2.0, promtest.ToFloat64(c.transactionsExecuted.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.transactionsExecuted.WithLabelValues("failure")))
}
