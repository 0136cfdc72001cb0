package executor

import (
	"context"

	"github.com/sslab/parex/model/txn"
)

// StateView is the read/write surface the engine offers to the execution
// backend for one attempt. Reads are bound to the transaction's position in
// the block: they observe the latest write of a strictly lower index, the
// attempt's own writes, or the block's base state, never a write from a
// higher index.
type StateView interface {
	// Get returns the value of key as visible to this transaction. A
	// ReadConflictError means a lower-index write for the key is in flight;
	// the backend must abandon the attempt by returning the error.
	Get(key txn.Key) (txn.Value, error)

	// Set buffers a write. Writes become visible to other transactions only
	// once the attempt completes.
	Set(key txn.Key, value txn.Value)
}

// VM is the external execution backend: it runs a single transaction's logic
// against a StateView. The engine treats it as a black box.
//
// An invalid transaction (insufficient balance, failed assertion) is a
// normal outcome: report it through Outcome.Err. The returned error is
// reserved for read conflicts propagated from the view and for backend
// infrastructure failures, which stop the block.
type VM interface {
	Execute(
		ctx context.Context,
		transaction txn.Transaction,
		view StateView,
	) (
		txn.Outcome,
		error,
	)
}

// StorageSnapshot is the read-only state the block executes on top of,
// supplied by the external storage layer.
type StorageSnapshot interface {
	Get(key txn.Key) (txn.Value, bool)
}

// MapSnapshot is a StorageSnapshot backed by a plain map.
type MapSnapshot map[txn.Key]txn.Value

func (m MapSnapshot) Get(key txn.Key) (txn.Value, bool) {
	value, ok := m[key]
	return value, ok
}
