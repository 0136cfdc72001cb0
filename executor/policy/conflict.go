// Package policy holds the pluggable strategies consulted by the scheduler:
// conflict handling (when to detect conflicts, how to resolve commit races)
// and the placement of aborted transactions back into the work queue.
//
// Strategies are plain objects selected at engine construction so a single
// binary can run every configuration side by side.
package policy

import (
	"github.com/sslab/parex/model/txn"
)

// WriteDecision is the outcome of resolving a write-write race between two
// incarnations of the same transaction index targeting the same key.
type WriteDecision int

const (
	// WriteAccept installs the incoming entry, replacing the existing one.
	WriteAccept WriteDecision = iota
	// WriteSkip keeps the existing entry and silently drops the incoming
	// write.
	WriteSkip
	// WriteRejectStale keeps the existing entry and reports the incoming
	// writer as stale so its whole attempt is discarded.
	WriteRejectStale
)

// CommitRule selects how a commit race between incarnations is resolved.
type CommitRule int

const (
	// FirstWins keeps the entry of the index's current incarnation: a write
	// arriving from an already-superseded incarnation is rejected and the
	// stale attempt discarded. This is the default, strict rule.
	FirstWins CommitRule = iota
	// LastWins always keeps the numerically-highest incarnation for a key.
	// A stale write is skipped per key without failing the newer writer,
	// trading strictness for fewer abort amplifications.
	LastWins
)

func (r CommitRule) String() string {
	switch r {
	case FirstWins:
		return "first-wins"
	case LastWins:
		return "last-wins"
	default:
		return "unknown"
	}
}

// ConflictPolicy bundles the two independent conflict toggles.
type ConflictPolicy interface {
	// EarlyDetection reports whether execution-time reads should surface
	// estimate hits immediately (aborting the attempt mid-execution) instead
	// of deferring all conflict discovery to validation.
	EarlyDetection() bool

	// ResolveWrite resolves a race between an existing chain entry and an
	// incoming write for the same transaction index. Both versions share the
	// index; only the incarnations differ.
	ResolveWrite(existing, incoming txn.Version) WriteDecision
}

type conflictPolicy struct {
	early bool
	rule  CommitRule
}

// NewConflictPolicy builds a policy from the two toggles.
func NewConflictPolicy(earlyDetection bool, rule CommitRule) ConflictPolicy {
	return conflictPolicy{
		early: earlyDetection,
		rule:  rule,
	}
}

// DefaultConflictPolicy enables early detection and resolves commit races
// first-wins.
func DefaultConflictPolicy() ConflictPolicy {
	return NewConflictPolicy(true, FirstWins)
}

func (p conflictPolicy) EarlyDetection() bool {
	return p.early
}

func (p conflictPolicy) ResolveWrite(existing, incoming txn.Version) WriteDecision {
	if incoming.Incarnation >= existing.Incarnation {
		return WriteAccept
	}

	switch p.rule {
	case LastWins:
		return WriteSkip
	default:
		return WriteRejectStale
	}
}
