package txn

// Transaction is the opaque payload handed to the execution backend. The
// engine never inspects it; ordering and identity come from the transaction's
// Index within the block.
type Transaction interface{}

// HintGroup lists transaction indices that consensus believes touch
// overlapping state. Hints are advisory: the engine stays correct when they
// are missing or wrong, they only steer the rescheduling of aborted
// transactions.
type HintGroup []Index

// Block is a consensus-ordered batch of transactions, optionally annotated
// with locality hints.
type Block struct {
	Transactions []Transaction
	HintGroups   []HintGroup
}

// Size returns the number of transactions in the block.
func (b *Block) Size() int {
	return len(b.Transactions)
}

// Outcome is the committed result of one transaction as reported by the
// execution backend. A failed transaction (for example, insufficient balance)
// is a normal committed outcome: failure is data, not a scheduling error.
type Outcome struct {
	Payload []byte
	Err     error
}

// TransactionResult is the final per-index record produced by the engine.
type TransactionResult struct {
	Index       Index
	Outcome     Outcome
	Incarnation Incarnation // incarnation that ultimately committed
	Aborts      uint32      // abort-and-retry rounds this transaction went through
}
