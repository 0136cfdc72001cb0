// Package executor implements deterministic parallel execution of one
// consensus-ordered block of transactions. Transactions run speculatively on
// a fixed worker pool against a multi-version state store; read-set
// validation, targeted aborts, and cascading re-validation guarantee the
// final state and per-transaction outcomes are identical to strictly
// sequential execution in block order.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sslab/parex/executor/errors"
	"github.com/sslab/parex/executor/mvstore"
	"github.com/sslab/parex/executor/policy"
	"github.com/sslab/parex/executor/scheduler"
	"github.com/sslab/parex/model/txn"
	"github.com/sslab/parex/module"
)

// A BlockExecutor executes the transactions in one block. It is single-use:
// the multi-version store and scheduler state live for exactly one block.
type BlockExecutor struct {
	vm    VM
	block *txn.Block
	base  StorageSnapshot

	store *mvstore.Store
	sched *scheduler.Scheduler

	workers        int
	conflicts      policy.ConflictPolicy
	rescheduler    policy.Rescheduler
	metrics        module.ExecutorMetrics
	abortThreshold uint32
	onBackpressure BackpressureFunc
	log            zerolog.Logger

	// outcomes[i] is written only by the worker running transaction i's
	// current incarnation; the scheduler serializes incarnations, and the
	// worker pool's completion orders all writes before the final read.
	outcomes []txn.Outcome
}

// NewBlockExecutor builds an executor for one block on top of the given base
// state.
func NewBlockExecutor(
	vm VM,
	block *txn.Block,
	base StorageSnapshot,
	opts ...Option,
) *BlockExecutor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	blockSize := block.Size()
	return &BlockExecutor{
		vm:             vm,
		block:          block,
		base:           base,
		store:          mvstore.New(blockSize, cfg.conflicts),
		sched:          scheduler.New(blockSize),
		workers:        cfg.workers,
		conflicts:      cfg.conflicts,
		rescheduler:    cfg.rescheduler,
		metrics:        cfg.metrics,
		abortThreshold: cfg.abortThreshold,
		onBackpressure: cfg.onBackpressure,
		log: cfg.log.With().
			Int("block_size", blockSize).
			Logger(),
		outcomes: make([]txn.Outcome, blockSize),
	}
}

// Execute runs the block to completion and returns the per-transaction
// results plus the final state delta. The only errors returned are engine
// invariant violations and backend infrastructure failures; speculative
// conflicts are absorbed by abort-and-retry and transaction-level failures
// are data in the outcomes.
func (e *BlockExecutor) Execute(ctx context.Context) (*BlockResult, error) {
	if e.block.Size() == 0 {
		return &BlockResult{StateDelta: map[txn.Key]txn.Value{}}, nil
	}

	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < e.workers; w++ {
		workerID := w
		g.Go(func() error {
			return e.runWorker(gctx, workerID)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("block execution failed: %w", err)
	}

	if err := e.sched.CheckAllCommitted(); err != nil {
		return nil, err
	}

	delta, err := e.snapshotState()
	if err != nil {
		return nil, err
	}

	results := make([]txn.TransactionResult, e.block.Size())
	for i := range results {
		index := txn.Index(i)
		incarnation, aborts := e.sched.TransactionStats(index)
		results[i] = txn.TransactionResult{
			Index:       index,
			Outcome:     e.outcomes[i],
			Incarnation: incarnation,
			Aborts:      aborts,
		}
	}

	e.metrics.BlockExecuted(time.Since(started), e.block.Size())
	e.log.Debug().
		Int("workers", e.workers).
		Dur("duration", time.Since(started)).
		Msg("block executed")

	return &BlockResult{
		TransactionResults: results,
		StateDelta:         delta,
	}, nil
}

// runWorker is one member of the fixed pool: it processes chained tasks and
// pulls fresh work from the scheduler until global completion. A worker
// never sleeps on a dependency; blocked attempts are abandoned and the
// worker immediately asks for other work.
func (e *BlockExecutor) runWorker(ctx context.Context, workerID int) error {
	log := e.log.With().Int("worker", workerID).Logger()

	var task *scheduler.Task
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if task != nil {
			var err error
			switch task.Kind {
			case scheduler.TaskExecute:
				task, err = e.executeTask(ctx, log, task.Version)
			case scheduler.TaskValidate:
				task, err = e.validateTask(log, task.Version)
			default:
				err = errors.NewInvariantViolationFailuref(
					"unknown task kind %d", task.Kind)
			}
			if err != nil {
				log.Err(err).Msg("worker stopping on fatal error")
				return err
			}
			continue
		}

		task = e.sched.NextTask()
		if task == nil {
			if e.sched.Done() {
				return nil
			}
			runtime.Gosched()
		}
	}
}

func (e *BlockExecutor) executeTask(
	ctx context.Context,
	log zerolog.Logger,
	version txn.Version,
) (*scheduler.Task, error) {
	for {
		view := newTxnView(
			e.store,
			e.base,
			version.Index,
			e.conflicts.EarlyDetection())

		started := time.Now()
		outcome, err := e.vm.Execute(
			ctx,
			e.block.Transactions[version.Index],
			view)
		if err != nil {
			conflict, ok := errors.AsReadConflictError(err)
			if !ok {
				return nil, fmt.Errorf(
					"backend failed executing transaction %d (incarnation %d): %w",
					version.Index,
					version.Incarnation,
					err)
			}

			e.metrics.EstimateReadBlocked()
			if e.sched.AddDependency(version.Index, conflict.Blocking) {
				log.Debug().
					Int("tx_index", int(version.Index)).
					Uint32("incarnation", uint32(version.Incarnation)).
					Int("blocking", int(conflict.Blocking)).
					Msg("transaction suspended on in-flight write")
				return nil, nil
			}
			// Blocker resolved in the meantime; rerun the same incarnation.
			continue
		}

		wroteNewKey, err := e.store.Record(version, view.readSet(), view.writeSet())
		if err != nil {
			// The status table runs one incarnation of an index at a time,
			// so a stale write reaching the store means the bookkeeping
			// broke.
			return nil, errors.NewInvariantViolationFailuref(
				"recording transaction %d output: %v",
				version.Index,
				err)
		}

		e.outcomes[version.Index] = outcome
		e.metrics.TransactionExecuted(time.Since(started), outcome.Err != nil)

		return e.sched.FinishExecution(version, wroteNewKey)
	}
}

func (e *BlockExecutor) validateTask(
	log zerolog.Logger,
	version txn.Version,
) (*scheduler.Task, error) {
	if !e.store.HasRecordedReadSet(version.Index) {
		return nil, errors.NewInvariantViolationFailuref(
			"validating transaction %d with no recorded read-set",
			version.Index)
	}

	valid := e.store.ValidateReadSet(version.Index)
	e.metrics.TransactionValidated(valid)

	aborted := !valid && e.sched.TryValidationAbort(version)

	var placement policy.Placement
	if aborted {
		e.store.MarkEstimates(version.Index)

		nextIncarnation := version.Incarnation + 1
		e.metrics.TransactionAborted(version.Index, nextIncarnation)
		if e.abortThreshold > 0 &&
			uint32(nextIncarnation) >= e.abortThreshold &&
			e.onBackpressure != nil {
			e.onBackpressure(version.Index, nextIncarnation)
		}

		placement = e.rescheduler.OnAbort(
			version.Index,
			txn.InvalidVersion.Index,
			e.block.HintGroups)

		log.Debug().
			Int("tx_index", int(version.Index)).
			Uint32("incarnation", uint32(version.Incarnation)).
			Bool("deferred", !placement.Immediate()).
			Msg("transaction aborted by validation")
	}

	return e.sched.FinishValidation(version, aborted, placement), nil
}

// snapshotState reads every touched key past the end of the block, fanning
// the chain reads out over a bounded pool. Chains are independently locked,
// so the reads parallelize without contention.
func (e *BlockExecutor) snapshotState() (map[txn.Key]txn.Value, error) {
	keys := e.store.SnapshotKeys()
	asOf := txn.Index(e.block.Size())

	reads := make([]mvstore.ReadResult, len(keys))
	pool := workerpool.New(e.workers)
	for i := range keys {
		i := i
		pool.Submit(func() {
			reads[i] = e.store.Read(keys[i], asOf)
		})
	}
	pool.StopWait()

	delta := make(map[txn.Key]txn.Value, len(keys))
	for i, key := range keys {
		switch reads[i].Status {
		case mvstore.ReadValue:
			delta[key] = reads[i].Value
		case mvstore.ReadBlocked:
			return nil, errors.NewInvariantViolationFailuref(
				"estimate for key %q (transaction %d) survived block completion",
				key,
				reads[i].Blocking)
		}
	}
	return delta, nil
}
