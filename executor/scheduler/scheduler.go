// Package scheduler drives speculative block execution: it owns the
// per-transaction state machines, tracks dependencies between transactions,
// and hands execute/validate tasks to idle workers.
//
// The protocol follows the optimistic multi-version design: two monotonic
// cursors sweep the block for first executions and validations, aborted
// transactions re-enter through a priority retry queue, and validation
// failures lower the validation cursor so everything downstream of a changed
// write gets re-checked.
package scheduler

import (
	"sync"

	"github.com/ef-ds/deque"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/sslab/parex/executor/errors"
	"github.com/sslab/parex/executor/policy"
	"github.com/sslab/parex/model/txn"
)

// TaskKind distinguishes the two units of work offered to workers.
type TaskKind int

const (
	TaskExecute TaskKind = iota
	TaskValidate
)

// Task is one unit of work: execute or validate a specific attempt.
type Task struct {
	Kind    TaskKind
	Version txn.Version
}

// Scheduler coordinates the workers executing one block. All transaction
// state transitions go through its methods; workers only report outcomes.
type Scheduler struct {
	blockSize int

	table *statusTable
	deps  *dependencyTracker

	executionIndex  atomic.Int64
	validationIndex atomic.Int64
	numActive       atomic.Int64
	decreases       atomic.Int64
	doneMarker      atomic.Bool
	failure         atomic.Error

	retryMu sync.Mutex
	retries *deque.Deque // txn.Index, aborted transactions ready to re-execute
}

// New creates a scheduler for a block of the given size. All transactions
// start Pending at incarnation zero.
func New(blockSize int) *Scheduler {
	return &Scheduler{
		blockSize: blockSize,
		table:     newStatusTable(blockSize),
		deps:      newDependencyTracker(blockSize),
		retries:   deque.New(),
	}
}

// Done reports global completion: every index committed and no pending
// re-validation remains.
func (s *Scheduler) Done() bool {
	return s.doneMarker.Load()
}

// NextTask offers the next unit of work to an idle worker, in priority
// order: a previously aborted transaction ready for re-execution, then the
// next un-executed transaction, then the next executed transaction pending
// validation.
func (s *Scheduler) NextTask() *Task {
	if task := s.nextRetry(); task != nil {
		return task
	}

	if s.validationIndex.Load() < s.executionIndex.Load() {
		return s.nextVersionToValidate()
	}
	return s.nextVersionToExecute()
}

func (s *Scheduler) nextRetry() *Task {
	s.retryMu.Lock()
	item, ok := s.retries.PopFront()
	s.retryMu.Unlock()
	if !ok {
		return nil
	}

	index := item.(txn.Index)
	s.numActive.Inc()
	incarnation, ok := s.table.tryStartExecution(index)
	if !ok {
		// A queued index must be Pending until claimed here. Anything else
		// means the status bookkeeping broke; record it so the terminal
		// check fails loudly instead of losing the transaction silently.
		s.failure.Store(errors.NewInvariantViolationFailuref(
			"queued retry of transaction %d could not be claimed", index))
		s.numActive.Dec()
		return nil
	}
	return &Task{
		Kind:    TaskExecute,
		Version: txn.Version{Index: index, Incarnation: incarnation},
	}
}

func (s *Scheduler) nextVersionToExecute() *Task {
	if s.executionIndex.Load() >= int64(s.blockSize) {
		s.checkDone()
		return nil
	}

	s.numActive.Inc()
	index := txn.Index(s.executionIndex.Inc() - 1)
	if int(index) < s.blockSize {
		if incarnation, ok := s.table.tryStartExecution(index); ok {
			return &Task{
				Kind:    TaskExecute,
				Version: txn.Version{Index: index, Incarnation: incarnation},
			}
		}
	}

	s.numActive.Dec()
	return nil
}

func (s *Scheduler) nextVersionToValidate() *Task {
	if s.validationIndex.Load() >= int64(s.blockSize) {
		s.checkDone()
		return nil
	}

	s.numActive.Inc()
	index := txn.Index(s.validationIndex.Inc() - 1)
	if int(index) < s.blockSize {
		if version, ok := s.table.executedVersion(index); ok {
			return &Task{Kind: TaskValidate, Version: version}
		}
	}

	s.numActive.Dec()
	return nil
}

// AddDependency suspends index until blocking has executed. It returns false
// when blocking already executed, in which case nothing was registered and
// the caller should simply re-execute. On true the current attempt is
// abandoned: the transaction resumes through the retry queue once the
// blocker finishes.
func (s *Scheduler) AddDependency(index, blocking txn.Index) bool {
	s.table.startAbort(index)

	if !s.deps.register(index, blocking, s.table.isExecuted) {
		// Dependency already resolved; undo the abort and let the caller
		// retry the same incarnation immediately.
		s.table.resumeExecuting(index)
		return false
	}

	s.numActive.Dec()
	return true
}

// FinishExecution records that the attempt produced output. wroteNewKey
// forces re-validation of all higher transactions (they may have read a key
// this attempt did not write before); otherwise only this transaction needs
// validating and the task is handed straight back to the worker.
func (s *Scheduler) FinishExecution(version txn.Version, wroteNewKey bool) (*Task, error) {
	if !s.table.finishExecution(version.Index) {
		return nil, errors.NewInvariantViolationFailuref(
			"transaction %d finished execution while not executing",
			version.Index)
	}

	s.resumeWaiters(version.Index)

	if s.validationIndex.Load() > int64(version.Index) {
		if wroteNewKey {
			s.decreaseValidationIndex(version.Index)
		} else {
			return &Task{Kind: TaskValidate, Version: version}, nil
		}
	}

	s.numActive.Dec()
	return nil, nil
}

// TryValidationAbort claims the abort of a failed attempt. Exactly one
// caller wins per attempt; the loser's validation result is ignored.
func (s *Scheduler) TryValidationAbort(version txn.Version) bool {
	return s.table.tryValidationAbort(version)
}

// FinishValidation closes out a validation task. On abort the rescheduler's
// placement decides whether the next incarnation re-queues immediately (the
// returned task, when the worker can take it over directly) or waits for its
// placement prerequisites to execute.
func (s *Scheduler) FinishValidation(
	version txn.Version,
	aborted bool,
	placement policy.Placement,
) *Task {
	if !aborted {
		s.table.tryCommit(version)
		s.numActive.Dec()
		return nil
	}

	// Everything above may have read this transaction's invalidated writes.
	s.decreaseValidationIndex(version.Index + 1)

	registered := 0
	for _, prereq := range placement.Prerequisites {
		if s.deps.register(version.Index, prereq, s.table.isExecuted) {
			registered++
		}
	}
	if registered > 0 {
		// Deferred: the retry resumes when the last prerequisite executes.
		s.numActive.Dec()
		return nil
	}

	s.table.markReady(version.Index)
	if incarnation, ok := s.table.tryStartExecution(version.Index); ok {
		return &Task{
			Kind:    TaskExecute,
			Version: txn.Version{Index: version.Index, Incarnation: incarnation},
		}
	}

	s.numActive.Dec()
	return nil
}

func (s *Scheduler) resumeWaiters(blocking txn.Index) {
	waiters := s.deps.harvest(blocking)
	if len(waiters) == 0 {
		return
	}

	for waiter := range waiters {
		if s.deps.release(waiter, blocking) {
			s.table.markReady(waiter)
			s.requeue(waiter)
		}
	}
}

func (s *Scheduler) requeue(index txn.Index) {
	s.retryMu.Lock()
	s.retries.PushFront(index)
	s.retryMu.Unlock()
	s.decreases.Inc()
}

func (s *Scheduler) decreaseValidationIndex(target txn.Index) {
	for {
		current := s.validationIndex.Load()
		if current <= int64(target) {
			break
		}
		if s.validationIndex.CompareAndSwap(current, int64(target)) {
			// Provisional commits in the re-opened range must be validated
			// again.
			upper := current
			if upper > int64(s.blockSize) {
				upper = int64(s.blockSize)
			}
			for i := int64(target); i < upper; i++ {
				s.table.uncommit(txn.Index(i))
			}
			break
		}
	}
	s.decreases.Inc()
}

// checkDone follows the double-read pattern: the completion condition must
// hold across an unchanged decrease counter, otherwise a concurrent cursor
// decrease could be missed.
func (s *Scheduler) checkDone() {
	observed := s.decreases.Load()

	s.retryMu.Lock()
	retriesEmpty := s.retries.Len() == 0
	s.retryMu.Unlock()

	if s.executionIndex.Load() >= int64(s.blockSize) &&
		s.validationIndex.Load() >= int64(s.blockSize) &&
		retriesEmpty &&
		s.numActive.Load() == 0 &&
		s.decreases.Load() == observed {
		s.doneMarker.Store(true)
	}
}

// CheckAllCommitted verifies the terminal condition after the done marker is
// set. Any non-committed transaction at this point is an engine bug; all
// offenders are reported together.
func (s *Scheduler) CheckAllCommitted() error {
	err := s.failure.Load()
	for i := 0; i < s.blockSize; i++ {
		status, incarnation, _ := s.table.snapshot(txn.Index(i))
		if status != StatusCommitted {
			err = multierr.Append(err, errors.NewInvariantViolationFailuref(
				"transaction %d ended the block %s at incarnation %d, expected committed",
				i,
				status,
				incarnation))
		}
	}
	return err
}

// TransactionStats returns the committed incarnation and abort count of an
// index, for the block's result records.
func (s *Scheduler) TransactionStats(index txn.Index) (txn.Incarnation, uint32) {
	_, incarnation, aborts := s.table.snapshot(index)
	return incarnation, aborts
}
