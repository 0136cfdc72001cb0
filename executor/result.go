package executor

import (
	"golang.org/x/exp/slices"

	"github.com/sslab/parex/model/txn"
)

// BlockResult is the output of executing one block: the committed outcome of
// every transaction in block order, and the final key-to-value delta to hand
// to the persistent storage layer.
type BlockResult struct {
	TransactionResults []txn.TransactionResult
	StateDelta         map[txn.Key]txn.Value
}

// DeltaKeys returns the delta's keys in sorted order, for deterministic
// application downstream.
func (r *BlockResult) DeltaKeys() []txn.Key {
	keys := make([]txn.Key, 0, len(r.StateDelta))
	for key := range r.StateDelta {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
