package scheduler

import (
	"sync"

	"github.com/sslab/parex/model/txn"
)

// Status is the per-transaction scheduling state.
type Status int

const (
	// StatusPending: eligible for (re-)execution at the current incarnation.
	StatusPending Status = iota
	// StatusExecuting: an execution attempt is running on some worker.
	StatusExecuting
	// StatusExecuted: the latest attempt finished and its output is
	// recorded, awaiting validation.
	StatusExecuted
	// StatusAborting: the latest attempt has been invalidated (failed
	// validation or blocked read) and the transaction is waiting to be
	// returned to Pending.
	StatusAborting
	// StatusCommitted: the latest attempt passed validation. Provisional
	// until the block completes: a cascading re-validation moves the
	// transaction back to Executed.
	StatusCommitted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusExecuted:
		return "executed"
	case StatusAborting:
		return "aborting"
	case StatusCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

type txnStatus struct {
	mu          sync.Mutex
	status      Status
	incarnation txn.Incarnation
	aborts      uint32
}

// statusTable holds one state machine per transaction index. All transitions
// happen through its methods under the per-index lock; nothing else mutates
// scheduling state.
type statusTable struct {
	statuses []txnStatus
}

func newStatusTable(blockSize int) *statusTable {
	return &statusTable{
		statuses: make([]txnStatus, blockSize),
	}
}

// tryStartExecution claims the index for execution if it is Pending,
// returning the incarnation to run.
func (t *statusTable) tryStartExecution(index txn.Index) (txn.Incarnation, bool) {
	s := &t.statuses[index]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPending {
		return 0, false
	}
	s.status = StatusExecuting
	return s.incarnation, true
}

// finishExecution moves Executing to Executed. It reports false when the
// index is not currently executing, which indicates an engine bug.
func (t *statusTable) finishExecution(index txn.Index) bool {
	s := &t.statuses[index]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusExecuting {
		return false
	}
	s.status = StatusExecuted
	return true
}

// startAbort moves Executing to Aborting (blocked-read path).
func (t *statusTable) startAbort(index txn.Index) {
	s := &t.statuses[index]
	s.mu.Lock()
	s.status = StatusAborting
	s.mu.Unlock()
}

// resumeExecuting undoes startAbort when the dependency turned out to be
// resolved already and the same incarnation keeps running.
func (t *statusTable) resumeExecuting(index txn.Index) {
	s := &t.statuses[index]
	s.mu.Lock()
	if s.status == StatusAborting {
		s.status = StatusExecuting
	}
	s.mu.Unlock()
}

// tryValidationAbort claims the right to abort the given attempt. Only one
// caller may win for any (index, incarnation) pair: the attempt must still be
// in Executed or provisionally Committed state at the same incarnation.
func (t *statusTable) tryValidationAbort(version txn.Version) bool {
	s := &t.statuses[version.Index]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.incarnation != version.Incarnation {
		return false
	}
	if s.status != StatusExecuted && s.status != StatusCommitted {
		return false
	}
	s.status = StatusAborting
	return true
}

// markReady completes an abort: incarnation is bumped and the transaction
// returns to Pending.
func (t *statusTable) markReady(index txn.Index) {
	s := &t.statuses[index]
	s.mu.Lock()
	s.incarnation++
	s.aborts++
	s.status = StatusPending
	s.mu.Unlock()
}

// tryCommit marks the attempt Committed if it is still the current executed
// incarnation.
func (t *statusTable) tryCommit(version txn.Version) bool {
	s := &t.statuses[version.Index]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.incarnation != version.Incarnation || s.status != StatusExecuted {
		return false
	}
	s.status = StatusCommitted
	return true
}

// uncommit reverts a provisional commit so the index gets re-validated.
func (t *statusTable) uncommit(index txn.Index) {
	s := &t.statuses[index]
	s.mu.Lock()
	if s.status == StatusCommitted {
		s.status = StatusExecuted
	}
	s.mu.Unlock()
}

// executedVersion returns the current incarnation if the index has produced
// output eligible for (re-)validation. Provisionally committed entries are
// offered as well: a validation success can land after the validation cursor
// was already lowered past the index, so the re-opened sweep must be able to
// re-check a Committed attempt or the stale commit would stand.
func (t *statusTable) executedVersion(index txn.Index) (txn.Version, bool) {
	s := &t.statuses[index]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusExecuted && s.status != StatusCommitted {
		return txn.Version{}, false
	}
	return txn.Version{Index: index, Incarnation: s.incarnation}, true
}

// isExecuted reports whether the index's latest attempt has produced output
// (Executed or provisionally Committed).
func (t *statusTable) isExecuted(index txn.Index) bool {
	s := &t.statuses[index]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusExecuted || s.status == StatusCommitted
}

// snapshot returns the status, incarnation and abort count of an index.
func (t *statusTable) snapshot(index txn.Index) (Status, txn.Incarnation, uint32) {
	s := &t.statuses[index]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.incarnation, s.aborts
}
