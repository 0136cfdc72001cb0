package executor

import (
	"github.com/sslab/parex/executor/errors"
	"github.com/sslab/parex/executor/mvstore"
	"github.com/sslab/parex/model/txn"
)

// txnView implements StateView for one execution attempt. It records every
// read's observed version for later validation and buffers writes until the
// attempt completes. Reads of the attempt's own writes are served from the
// buffer and not recorded.
type txnView struct {
	store *mvstore.Store
	base  StorageSnapshot

	index txn.Index
	// earlyDetection: surface estimate hits as read conflicts immediately
	// instead of reading past them and letting validation catch the
	// conflict.
	earlyDetection bool

	reads     txn.ReadSet
	readCache map[txn.Key]txn.Value
	writes    txn.WriteSet
}

var _ StateView = (*txnView)(nil)

func newTxnView(
	store *mvstore.Store,
	base StorageSnapshot,
	index txn.Index,
	earlyDetection bool,
) *txnView {
	return &txnView{
		store:          store,
		base:           base,
		index:          index,
		earlyDetection: earlyDetection,
		readCache:      make(map[txn.Key]txn.Value),
		writes:         make(txn.WriteSet),
	}
}

func (v *txnView) Get(key txn.Key) (txn.Value, error) {
	if value, ok := v.writes[key]; ok {
		return value, nil
	}
	if value, ok := v.readCache[key]; ok {
		return value, nil
	}

	var result mvstore.ReadResult
	if v.earlyDetection {
		result = v.store.Read(key, v.index)
	} else {
		result = v.store.ReadSkipEstimates(key, v.index)
	}

	switch result.Status {
	case mvstore.ReadBlocked:
		return nil, errors.NewReadConflictError(key, result.Blocking)
	case mvstore.ReadValue:
		v.record(key, result.Version, result.Value)
		return result.Value, nil
	default:
		value, _ := v.base.Get(key)
		v.record(key, txn.InvalidVersion, value)
		return value, nil
	}
}

func (v *txnView) Set(key txn.Key, value txn.Value) {
	v.writes[key] = value
}

func (v *txnView) record(key txn.Key, version txn.Version, value txn.Value) {
	v.reads = append(v.reads, txn.ReadDescriptor{Key: key, Version: version})
	v.readCache[key] = value
}

func (v *txnView) readSet() txn.ReadSet {
	return v.reads
}

func (v *txnView) writeSet() txn.WriteSet {
	return v.writes
}
