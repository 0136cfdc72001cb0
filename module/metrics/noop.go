package metrics

import (
	"time"

	"github.com/sslab/parex/model/txn"
	"github.com/sslab/parex/module"
)

// NoopCollector discards all metrics.
type NoopCollector struct{}

var _ module.ExecutorMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (c *NoopCollector) TransactionExecuted(duration time.Duration, failed bool)          {}
func (c *NoopCollector) TransactionAborted(index txn.Index, incarnation txn.Incarnation)  {}
func (c *NoopCollector) TransactionValidated(valid bool)                                  {}
func (c *NoopCollector) EstimateReadBlocked()                                             {}
func (c *NoopCollector) BlockExecuted(duration time.Duration, blockSize int)              {}
