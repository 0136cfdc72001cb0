package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sslab/parex/model/txn"
	"github.com/sslab/parex/module"
)

const (
	namespaceExecutor  = "parex"
	subsystemScheduler = "scheduler"
)

// ExecutorCollector reports engine activity to prometheus.
type ExecutorCollector struct {
	transactionsExecuted  *prometheus.CounterVec
	transactionsAborted   prometheus.Counter
	transactionsValidated *prometheus.CounterVec
	estimateReadsBlocked  prometheus.Counter
	maxIncarnation        prometheus.Gauge
	transactionDuration   prometheus.Histogram
	blockDuration         prometheus.Histogram
	blockSize             prometheus.Histogram

	maxMu       sync.Mutex
	highestSeen txn.Incarnation
}

var _ module.ExecutorMetrics = (*ExecutorCollector)(nil)

func NewExecutorCollector(registerer prometheus.Registerer) *ExecutorCollector {
	factory := promauto.With(registerer)

	return &ExecutorCollector{
		transactionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "transactions_executed_total",
			Help:      "number of execution attempts that ran to completion, by outcome",
		}, []string{"outcome"}),
		transactionsAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "transactions_aborted_total",
			Help:      "number of speculative attempts aborted and retried",
		}),
		transactionsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "transactions_validated_total",
			Help:      "number of read-set validations, by result",
		}, []string{"result"}),
		estimateReadsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "estimate_reads_blocked_total",
			Help:      "number of reads suspended on an in-flight upstream write",
		}),
		maxIncarnation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "max_incarnation",
			Help:      "highest incarnation observed since startup, an abort storm indicator",
		}),
		transactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "transaction_execution_seconds",
			Help:      "duration of single execution attempts",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 7),
		}),
		blockDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "block_execution_seconds",
			Help:      "duration of whole-block execution",
			Buckets:   prometheus.ExponentialBuckets(0.001, 10, 6),
		}),
		blockSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Subsystem: subsystemScheduler,
			Name:      "block_size_transactions",
			Help:      "number of transactions per executed block",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (c *ExecutorCollector) TransactionExecuted(duration time.Duration, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	c.transactionsExecuted.WithLabelValues(outcome).Inc()
	c.transactionDuration.Observe(duration.Seconds())
}

func (c *ExecutorCollector) TransactionAborted(index txn.Index, incarnation txn.Incarnation) {
	c.transactionsAborted.Inc()

	c.maxMu.Lock()
	if incarnation > c.highestSeen {
		c.highestSeen = incarnation
		c.maxIncarnation.Set(float64(incarnation))
	}
	c.maxMu.Unlock()
}

func (c *ExecutorCollector) TransactionValidated(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.transactionsValidated.WithLabelValues(result).Inc()
}

func (c *ExecutorCollector) EstimateReadBlocked() {
	c.estimateReadsBlocked.Inc()
}

func (c *ExecutorCollector) BlockExecuted(duration time.Duration, blockSize int) {
	c.blockDuration.Observe(duration.Seconds())
	c.blockSize.Observe(float64(blockSize))
}
