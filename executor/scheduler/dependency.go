package scheduler

import (
	"sync"

	"github.com/sslab/parex/model/txn"
)

type waiterSet struct {
	mu      sync.Mutex
	waiters map[txn.Index]struct{}
}

type blockerSet struct {
	mu       sync.Mutex
	blockers map[txn.Index]struct{}
}

// dependencyTracker records which transactions are suspended waiting on the
// output of lower-index transactions. A transaction resumes when the last of
// its blockers finishes executing.
type dependencyTracker struct {
	// waitersOn[i]: transactions suspended until i executes.
	waitersOn []waiterSet
	// blockersOf[i]: transactions i is suspended on.
	blockersOf []blockerSet
}

func newDependencyTracker(blockSize int) *dependencyTracker {
	return &dependencyTracker{
		waitersOn:  make([]waiterSet, blockSize),
		blockersOf: make([]blockerSet, blockSize),
	}
}

// register suspends index on blocking unless blocking has already executed.
// The executed check runs under the waiter lock so a concurrent
// finishExecution cannot harvest the waiter set between the check and the
// registration.
func (d *dependencyTracker) register(
	index txn.Index,
	blocking txn.Index,
	executed func(txn.Index) bool,
) bool {
	ws := &d.waitersOn[blocking]
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if executed(blocking) {
		return false
	}

	if ws.waiters == nil {
		ws.waiters = make(map[txn.Index]struct{})
	}
	ws.waiters[index] = struct{}{}

	bs := &d.blockersOf[index]
	bs.mu.Lock()
	if bs.blockers == nil {
		bs.blockers = make(map[txn.Index]struct{})
	}
	bs.blockers[blocking] = struct{}{}
	bs.mu.Unlock()

	return true
}

// harvest removes and returns the set of transactions waiting on index.
func (d *dependencyTracker) harvest(index txn.Index) map[txn.Index]struct{} {
	ws := &d.waitersOn[index]
	ws.mu.Lock()
	waiters := ws.waiters
	ws.waiters = nil
	ws.mu.Unlock()
	return waiters
}

// release drops blocking from the waiter's blocker set and reports whether
// the waiter has no blockers left and can resume.
func (d *dependencyTracker) release(waiter, blocking txn.Index) bool {
	bs := &d.blockersOf[waiter]
	bs.mu.Lock()
	delete(bs.blockers, blocking)
	canResume := len(bs.blockers) == 0
	bs.mu.Unlock()
	return canResume
}
