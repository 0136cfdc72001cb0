package executor

import (
	"runtime"

	"github.com/rs/zerolog"

	"github.com/sslab/parex/executor/policy"
	"github.com/sslab/parex/model/txn"
	"github.com/sslab/parex/module"
	"github.com/sslab/parex/module/metrics"
)

// BackpressureFunc is notified when a transaction's abort count crosses the
// configured threshold, signaling a potential abort storm. The engine keeps
// running; throttling is the caller's decision.
type BackpressureFunc func(index txn.Index, incarnation txn.Incarnation)

type config struct {
	workers        int
	conflicts      policy.ConflictPolicy
	rescheduler    policy.Rescheduler
	log            zerolog.Logger
	metrics        module.ExecutorMetrics
	abortThreshold uint32
	onBackpressure BackpressureFunc
}

func defaultConfig() config {
	return config{
		workers:        runtime.NumCPU(),
		conflicts:      policy.DefaultConflictPolicy(),
		rescheduler:    policy.NewImmediateRescheduler(),
		log:            zerolog.Nop(),
		metrics:        metrics.NewNoopCollector(),
		abortThreshold: 0, // disabled
	}
}

// Option configures a BlockExecutor at construction.
type Option func(*config)

// WithWorkers sets the size of the fixed worker pool.
func WithWorkers(workers int) Option {
	return func(c *config) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithConflictPolicy selects early-detection and commit-race behavior.
func WithConflictPolicy(p policy.ConflictPolicy) Option {
	return func(c *config) {
		c.conflicts = p
	}
}

// WithRescheduler selects the placement strategy for aborted transactions.
func WithRescheduler(r policy.Rescheduler) Option {
	return func(c *config) {
		c.rescheduler = r
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m module.ExecutorMetrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithAbortThreshold installs a backpressure signal fired whenever a
// transaction aborts more than threshold times.
func WithAbortThreshold(threshold uint32, fn BackpressureFunc) Option {
	return func(c *config) {
		c.abortThreshold = threshold
		c.onBackpressure = fn
	}
}
