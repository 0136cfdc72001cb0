// Package testutil provides a deterministic execution backend and workload
// fixtures for exercising the engine: a simple account-ledger VM, a serial
// reference executor, and generators for contended transfer workloads.
package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sslab/parex/executor"
	"github.com/sslab/parex/model/txn"
)

// ErrInsufficientBalance is a transaction-level failure: it commits as the
// transaction's outcome and never triggers a retry.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transfer moves Amount from one account to another.
type Transfer struct {
	From   txn.Key
	To     txn.Key
	Amount uint64
}

// Increment is a read-modify-write on a single counter key.
type Increment struct {
	Key   txn.Key
	Delta uint64
}

// EncodeAmount encodes a balance or counter value.
func EncodeAmount(amount uint64) txn.Value {
	value := make(txn.Value, 8)
	binary.BigEndian.PutUint64(value, amount)
	return value
}

// DecodeAmount decodes a value; absent (nil) decodes to zero.
func DecodeAmount(value txn.Value) uint64 {
	if len(value) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}

// LedgerVM executes Transfer and Increment transactions against a StateView.
// It is fully deterministic: identical inputs and visible state produce
// identical read patterns, writes and outcomes.
type LedgerVM struct{}

var _ executor.VM = (*LedgerVM)(nil)

func (vm *LedgerVM) Execute(
	ctx context.Context,
	transaction txn.Transaction,
	view executor.StateView,
) (
	txn.Outcome,
	error,
) {
	switch t := transaction.(type) {
	case Transfer:
		return vm.transfer(t, view)
	case Increment:
		return vm.increment(t, view)
	default:
		return txn.Outcome{}, fmt.Errorf("unknown transaction type %T", transaction)
	}
}

func (vm *LedgerVM) transfer(t Transfer, view executor.StateView) (txn.Outcome, error) {
	fromValue, err := view.Get(t.From)
	if err != nil {
		return txn.Outcome{}, err
	}
	fromBalance := DecodeAmount(fromValue)

	if fromBalance < t.Amount {
		return txn.Outcome{Err: ErrInsufficientBalance}, nil
	}

	if t.From == t.To {
		view.Set(t.From, EncodeAmount(fromBalance))
		return txn.Outcome{Payload: EncodeAmount(fromBalance)}, nil
	}

	toValue, err := view.Get(t.To)
	if err != nil {
		return txn.Outcome{}, err
	}
	toBalance := DecodeAmount(toValue)

	view.Set(t.From, EncodeAmount(fromBalance-t.Amount))
	view.Set(t.To, EncodeAmount(toBalance+t.Amount))

	return txn.Outcome{Payload: EncodeAmount(fromBalance - t.Amount)}, nil
}

func (vm *LedgerVM) increment(t Increment, view executor.StateView) (txn.Outcome, error) {
	value, err := view.Get(t.Key)
	if err != nil {
		return txn.Outcome{}, err
	}

	next := DecodeAmount(value) + t.Delta
	view.Set(t.Key, EncodeAmount(next))
	return txn.Outcome{Payload: EncodeAmount(next)}, nil
}
