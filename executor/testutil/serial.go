package testutil

import (
	"context"
	"fmt"

	"github.com/sslab/parex/executor"
	"github.com/sslab/parex/model/txn"
)

// serialView executes one transaction against the accumulated overlay of all
// earlier transactions' writes.
type serialView struct {
	base    executor.StorageSnapshot
	overlay map[txn.Key]txn.Value
	writes  txn.WriteSet
}

var _ executor.StateView = (*serialView)(nil)

func (v *serialView) Get(key txn.Key) (txn.Value, error) {
	if value, ok := v.writes[key]; ok {
		return value, nil
	}
	if value, ok := v.overlay[key]; ok {
		return value, nil
	}
	value, _ := v.base.Get(key)
	return value, nil
}

func (v *serialView) Set(key txn.Key, value txn.Value) {
	v.writes[key] = value
}

// ExecuteSerial runs the block strictly sequentially in index order. It is
// the reference the parallel engine's output must match exactly.
func ExecuteSerial(
	ctx context.Context,
	vm executor.VM,
	block *txn.Block,
	base executor.StorageSnapshot,
) (
	*executor.BlockResult,
	error,
) {
	overlay := make(map[txn.Key]txn.Value)
	results := make([]txn.TransactionResult, block.Size())

	for i, transaction := range block.Transactions {
		view := &serialView{
			base:    base,
			overlay: overlay,
			writes:  make(txn.WriteSet),
		}

		outcome, err := vm.Execute(ctx, transaction, view)
		if err != nil {
			return nil, fmt.Errorf("serial execution of transaction %d: %w", i, err)
		}

		for key, value := range view.writes {
			overlay[key] = value
		}

		results[i] = txn.TransactionResult{
			Index:   txn.Index(i),
			Outcome: outcome,
		}
	}

	return &executor.BlockResult{
		TransactionResults: results,
		StateDelta:         overlay,
	}, nil
}
