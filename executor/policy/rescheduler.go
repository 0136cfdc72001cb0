package policy

import (
	"github.com/sslab/parex/model/txn"
)

// Placement tells the scheduler where the next incarnation of an aborted
// transaction goes.
type Placement struct {
	// Prerequisites lists lower-index transactions that must reach the
	// executed state before the aborted transaction is offered for
	// re-execution. Empty means re-queue at the front immediately.
	Prerequisites []txn.Index
}

// Immediate reports whether the placement has no prerequisites.
func (p Placement) Immediate() bool {
	return len(p.Prerequisites) == 0
}

// Rescheduler decides, on abort of a transaction, where its next incarnation
// is placed in the work queue.
type Rescheduler interface {
	// OnAbort is called with the aborted index, the index it was blocked on
	// (InvalidVersion.Index when the abort came from validation rather than
	// a blocked read), and the block's locality hints.
	OnAbort(index txn.Index, blocking txn.Index, hints []txn.HintGroup) Placement
}

type immediateRescheduler struct{}

// NewImmediateRescheduler re-queues aborted transactions at the front of the
// execution-eligible queue so they re-execute as soon as a worker frees up.
// This minimizes the delay before downstream transactions can re-validate.
func NewImmediateRescheduler() Rescheduler {
	return immediateRescheduler{}
}

func (immediateRescheduler) OnAbort(
	index txn.Index,
	blocking txn.Index,
	hints []txn.HintGroup,
) Placement {
	return Placement{}
}

type localityRescheduler struct{}

// NewLocalityRescheduler defers the retry of an aborted transaction until
// the lower-index members of its consensus-supplied hint groups have
// executed. Re-running before the transactions it likely conflicts with have
// produced output tends to re-collide with the same in-flight writer; the
// hints let the scheduler wait out exactly those.
func NewLocalityRescheduler() Rescheduler {
	return localityRescheduler{}
}

func (localityRescheduler) OnAbort(
	index txn.Index,
	blocking txn.Index,
	hints []txn.HintGroup,
) Placement {
	seen := map[txn.Index]struct{}{}
	var prereqs []txn.Index

	if blocking >= 0 && blocking < index {
		seen[blocking] = struct{}{}
		prereqs = append(prereqs, blocking)
	}

	for _, group := range hints {
		if !containsIndex(group, index) {
			continue
		}
		for _, peer := range group {
			if peer >= index {
				continue
			}
			if _, ok := seen[peer]; ok {
				continue
			}
			seen[peer] = struct{}{}
			prereqs = append(prereqs, peer)
		}
	}

	return Placement{Prerequisites: prereqs}
}

func containsIndex(group txn.HintGroup, index txn.Index) bool {
	for _, member := range group {
		if member == index {
			return true
		}
	}
	return false
}
