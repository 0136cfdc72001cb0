// Package mvstore implements the multi-version store backing speculative
// block execution: per key, an ordered chain of values written by different
// transaction indices, read through an index-bounded API so a transaction
// never observes writes from higher positions in the block.
//
// Chains are independently synchronized; there is no global lock, so
// unrelated keys never contend.
package mvstore

import (
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"go.uber.org/atomic"

	"github.com/sslab/parex/executor/errors"
	"github.com/sslab/parex/executor/policy"
	"github.com/sslab/parex/model/txn"
)

// ReadStatus classifies the result of an index-bounded read.
type ReadStatus int

const (
	// ReadValue: a committed or speculative value from a lower-index
	// transaction was found.
	ReadValue ReadStatus = iota
	// ReadAbsent: no lower-index transaction wrote the key; the caller reads
	// the block's base state instead.
	ReadAbsent
	// ReadBlocked: the latest lower-index entry is an estimate, meaning a
	// write for this key is in flight. The reader depends on that index.
	ReadBlocked
)

// ReadResult is the outcome of a Read.
type ReadResult struct {
	Status   ReadStatus
	Version  txn.Version
	Value    txn.Value
	Blocking txn.Index
}

type chainEntry struct {
	incarnation txn.Incarnation
	value       txn.Value
	estimate    bool
}

// versionChain holds the per-key entries ordered by transaction index. At
// most one entry exists per index: the latest incarnation supersedes earlier
// ones.
type versionChain struct {
	mu      sync.RWMutex
	entries *redblacktree.Tree // int(txn.Index) -> *chainEntry
}

func newVersionChain() *versionChain {
	return &versionChain{
		entries: redblacktree.NewWith(utils.IntComparator),
	}
}

// Store is the multi-version state map for one block.
type Store struct {
	chains    sync.Map // txn.Key -> *versionChain
	conflicts policy.ConflictPolicy

	lastWriteSets []atomic.Pointer[[]txn.Key]
	lastReadSets  []atomic.Pointer[txn.ReadSet]
}

// New creates an empty store for a block of the given size. The conflict
// policy decides write-write races between incarnations of the same index.
func New(blockSize int, conflicts policy.ConflictPolicy) *Store {
	return &Store{
		conflicts:     conflicts,
		lastWriteSets: make([]atomic.Pointer[[]txn.Key], blockSize),
		lastReadSets:  make([]atomic.Pointer[txn.ReadSet], blockSize),
	}
}

// Read returns the latest entry for key with transaction index strictly below
// asOfIndex. An estimate entry is reported as ReadBlocked on the writing
// index rather than served, so the caller can suspend cooperatively instead
// of observing state that is about to change.
func (s *Store) Read(key txn.Key, asOfIndex txn.Index) ReadResult {
	return s.read(key, asOfIndex, false)
}

// ReadSkipEstimates behaves like Read but steps over estimate entries and
// serves the latest real value below them. Used by execution-time reads when
// early conflict detection is disabled: the attempt runs to completion
// speculatively and the conflict surfaces at validation instead.
func (s *Store) ReadSkipEstimates(key txn.Key, asOfIndex txn.Index) ReadResult {
	return s.read(key, asOfIndex, true)
}

func (s *Store) read(key txn.Key, asOfIndex txn.Index, skipEstimates bool) ReadResult {
	chain := s.getChain(key)
	if chain == nil {
		return ReadResult{Status: ReadAbsent}
	}

	chain.mu.RLock()
	defer chain.mu.RUnlock()

	node, found := chain.entries.Floor(int(asOfIndex) - 1)
	if !found {
		return ReadResult{Status: ReadAbsent}
	}

	it := chain.entries.IteratorAt(node)
	for {
		index := txn.Index(it.Key().(int))
		entry := it.Value().(*chainEntry)

		if entry.estimate {
			if !skipEstimates {
				return ReadResult{Status: ReadBlocked, Blocking: index}
			}
			if !it.Prev() {
				return ReadResult{Status: ReadAbsent}
			}
			continue
		}

		return ReadResult{
			Status:  ReadValue,
			Version: txn.Version{Index: index, Incarnation: entry.incarnation},
			Value:   entry.value,
		}
	}
}

// Record installs one execution attempt's output: the write-set goes into the
// version chains and the read-set is retained for later validation. It
// reports whether the attempt wrote a key its previous incarnation did not,
// which forces re-validation of higher transactions instead of just this one.
//
// A StaleWriteError means the attempt's incarnation was superseded while it
// ran and its entire output has been discarded.
func (s *Store) Record(
	version txn.Version,
	readSet txn.ReadSet,
	writeSet txn.WriteSet,
) (
	wroteNewKey bool,
	err error,
) {
	wroteNewKey, err = s.applyWriteSet(version, writeSet)
	if err != nil {
		return false, err
	}

	s.lastReadSets[version.Index].Store(&readSet)
	return wroteNewKey, nil
}

func (s *Store) applyWriteSet(
	version txn.Version,
	writeSet txn.WriteSet,
) (
	wroteNewKey bool,
	err error,
) {
	for key, value := range writeSet {
		if err := s.write(key, version, value); err != nil {
			return false, err
		}
	}

	prev := s.lastWriteSets[version.Index].Load()
	if prev == nil {
		wroteNewKey = len(writeSet) > 0
	} else {
		prevKeys := *prev
		for _, key := range prevKeys {
			if _, ok := writeSet[key]; !ok {
				// Retract writes the new incarnation no longer produces.
				s.remove(key, version.Index)
			}
		}
		for key := range writeSet {
			if !containsKey(prevKeys, key) {
				wroteNewKey = true
				break
			}
		}
	}

	keys := make([]txn.Key, 0, len(writeSet))
	for key := range writeSet {
		keys = append(keys, key)
	}
	s.lastWriteSets[version.Index].Store(&keys)

	return wroteNewKey, nil
}

func (s *Store) write(key txn.Key, version txn.Version, value txn.Value) error {
	chain := s.getOrCreateChain(key)

	chain.mu.Lock()
	defer chain.mu.Unlock()

	existing, ok := chain.entries.Get(int(version.Index))
	if ok {
		entry := existing.(*chainEntry)
		if entry.incarnation != version.Incarnation {
			decision := s.conflicts.ResolveWrite(
				txn.Version{Index: version.Index, Incarnation: entry.incarnation},
				version)
			switch decision {
			case policy.WriteSkip:
				return nil
			case policy.WriteRejectStale:
				return errors.NewStaleWriteError(
					key,
					version,
					txn.Version{Index: version.Index, Incarnation: entry.incarnation})
			}
		}

		entry.incarnation = version.Incarnation
		entry.value = value
		entry.estimate = false
		return nil
	}

	chain.entries.Put(int(version.Index), &chainEntry{
		incarnation: version.Incarnation,
		value:       value,
	})
	return nil
}

func (s *Store) remove(key txn.Key, index txn.Index) {
	chain := s.getChain(key)
	if chain == nil {
		return
	}
	chain.mu.Lock()
	chain.entries.Remove(int(index))
	chain.mu.Unlock()
}

// MarkEstimates flags an aborted transaction's previous writes as estimates.
// Downstream readers hitting them observe "a write is coming" for the
// affected keys instead of consuming values that are about to be replaced.
func (s *Store) MarkEstimates(index txn.Index) {
	prev := s.lastWriteSets[index].Load()
	if prev == nil {
		return
	}

	for _, key := range *prev {
		chain := s.getChain(key)
		if chain == nil {
			continue
		}
		chain.mu.Lock()
		if existing, ok := chain.entries.Get(int(index)); ok {
			existing.(*chainEntry).estimate = true
		}
		chain.mu.Unlock()
	}
}

// ValidateReadSet re-checks the recorded read-set of the transaction's latest
// attempt against the current chains: every read must resolve to the exact
// version it observed. Reads that hit an estimate or a changed version fail
// validation.
func (s *Store) ValidateReadSet(index txn.Index) bool {
	readSet := s.lastReadSets[index].Load()
	if readSet == nil {
		return true
	}

	for _, read := range *readSet {
		current := s.Read(read.Key, index)
		switch current.Status {
		case ReadBlocked:
			return false
		case ReadAbsent:
			if read.Version.Valid() {
				return false
			}
		case ReadValue:
			if !read.Version.Valid() || current.Version != read.Version {
				return false
			}
		}
	}
	return true
}

// HasRecordedReadSet reports whether the index has a read-set on file. The
// scheduler validates only executed transactions, so a missing read-set at
// validation time is an engine bug.
func (s *Store) HasRecordedReadSet(index txn.Index) bool {
	return s.lastReadSets[index].Load() != nil
}

// Snapshot assembles the final key-to-value state delta by reading every
// chain past the end of the block. It must only be called once all
// transactions have committed; a leftover estimate entry indicates an engine
// bug and is reported as an invariant violation.
func (s *Store) Snapshot() (map[txn.Key]txn.Value, error) {
	asOf := txn.Index(len(s.lastReadSets))

	delta := make(map[txn.Key]txn.Value)
	var firstErr error
	s.chains.Range(func(k, _ any) bool {
		key := k.(txn.Key)
		result := s.Read(key, asOf)
		switch result.Status {
		case ReadValue:
			delta[key] = result.Value
		case ReadBlocked:
			firstErr = errors.NewInvariantViolationFailuref(
				"estimate for key %q (transaction %d) survived block completion",
				key,
				result.Blocking)
			return false
		}
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return delta, nil
}

// SnapshotKeys returns every key that has at least one chain entry. Used to
// fan the final snapshot reads out over a worker pool.
func (s *Store) SnapshotKeys() []txn.Key {
	var keys []txn.Key
	s.chains.Range(func(k, _ any) bool {
		keys = append(keys, k.(txn.Key))
		return true
	})
	return keys
}

func (s *Store) getChain(key txn.Key) *versionChain {
	val, ok := s.chains.Load(key)
	if !ok {
		return nil
	}
	return val.(*versionChain)
}

func (s *Store) getOrCreateChain(key txn.Key) *versionChain {
	if chain := s.getChain(key); chain != nil {
		return chain
	}
	val, _ := s.chains.LoadOrStore(key, newVersionChain())
	return val.(*versionChain)
}

func containsKey(keys []txn.Key, key txn.Key) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
