// Package txn holds the core model types shared by the parallel execution
// engine: transaction positions, incarnations, versions, and the opaque
// key/value state the engine schedules access to.
package txn

import "fmt"

// Index is a transaction's fixed position in the consensus-ordered block
// (0-based). It is immutable for the block's lifetime and defines the total
// order the final state must be equivalent to.
type Index int

// Incarnation counts the execution attempts of a single transaction index.
// It starts at 0 and is incremented on every abort-and-retry.
type Incarnation uint32

// Version uniquely identifies one execution attempt of one transaction.
type Version struct {
	Index       Index
	Incarnation Incarnation
}

// InvalidVersion marks a read that was served from the block's base state
// rather than from another transaction's write.
var InvalidVersion = Version{Index: -1}

// Valid returns false for reads that did not observe any in-block write.
func (v Version) Valid() bool {
	return v.Index >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d/%d", v.Index, v.Incarnation)
}

// Key identifies a single state location (an account balance, a contract
// storage slot). The engine treats keys as opaque.
type Key string

// Value is an opaque state value produced by the execution backend.
type Value []byte

// ReadDescriptor records one read performed by an execution attempt: the key
// and the version it observed. InvalidVersion means the read fell through to
// the base state.
type ReadDescriptor struct {
	Key     Key
	Version Version
}

// ReadSet is the full collection of reads for one execution attempt.
type ReadSet []ReadDescriptor

// WriteSet maps each written key to the value produced by one execution
// attempt.
type WriteSet map[Key]Value
