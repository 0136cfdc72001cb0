// Package module defines the interfaces the execution engine consumes from
// its operating environment.
package module

import (
	"time"

	"github.com/sslab/parex/model/txn"
)

// ExecutorMetrics reports the engine's scheduling activity. Resource
// exhaustion (abort storms) is surfaced here as well: the engine does not
// throttle itself, the caller owns that policy.
type ExecutorMetrics interface {
	// TransactionExecuted reports one completed execution attempt.
	TransactionExecuted(duration time.Duration, failed bool)

	// TransactionAborted reports an abort-and-retry of one attempt.
	TransactionAborted(index txn.Index, incarnation txn.Incarnation)

	// TransactionValidated reports one validation check.
	TransactionValidated(valid bool)

	// EstimateReadBlocked reports a read that hit an in-flight write marker
	// and suspended the reading transaction.
	EstimateReadBlocked()

	// BlockExecuted reports completion of a whole block.
	BlockExecuted(duration time.Duration, blockSize int)
}
