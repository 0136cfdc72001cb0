package testutil

import (
	"fmt"
	"math/rand"

	"github.com/sslab/parex/executor"
	"github.com/sslab/parex/model/txn"
)

// AccountKey names the i-th test account.
func AccountKey(i int) txn.Key {
	return txn.Key(fmt.Sprintf("account/%04d", i))
}

// GenesisSnapshot funds every account with the same starting balance.
func GenesisSnapshot(balance uint64, accounts int) executor.MapSnapshot {
	snapshot := make(executor.MapSnapshot, accounts)
	for i := 0; i < accounts; i++ {
		snapshot[AccountKey(i)] = EncodeAmount(balance)
	}
	return snapshot
}

// TransferBlock wraps transfers into an ordered block.
func TransferBlock(transfers ...Transfer) *txn.Block {
	transactions := make([]txn.Transaction, len(transfers))
	for i, transfer := range transfers {
		transactions[i] = transfer
	}
	return &txn.Block{Transactions: transactions}
}

// RandomTransferBlock generates a transfer workload over the given number of
// accounts. hotFraction of the transfers touch a single hot account,
// producing the write-write contention that forces aborts and retries.
func RandomTransferBlock(
	rng *rand.Rand,
	numTransactions int,
	numAccounts int,
	hotFraction float64,
) *txn.Block {
	transfers := make([]Transfer, numTransactions)
	for i := range transfers {
		from := rng.Intn(numAccounts)
		to := rng.Intn(numAccounts)
		if rng.Float64() < hotFraction {
			to = 0
		}
		transfers[i] = Transfer{
			From:   AccountKey(from),
			To:     AccountKey(to),
			Amount: uint64(1 + rng.Intn(10)),
		}
	}
	return TransferBlock(transfers...)
}

// WithHints derives locality hint groups for a transfer block: transactions
// touching a common account land in the same group, the way a consensus
// layer with account-level access lists would annotate the batch.
func WithHints(block *txn.Block) *txn.Block {
	byAccount := make(map[txn.Key][]txn.Index)
	for i, transaction := range block.Transactions {
		transfer, ok := transaction.(Transfer)
		if !ok {
			continue
		}
		index := txn.Index(i)
		byAccount[transfer.From] = append(byAccount[transfer.From], index)
		if transfer.To != transfer.From {
			byAccount[transfer.To] = append(byAccount[transfer.To], index)
		}
	}

	var groups []txn.HintGroup
	for _, members := range byAccount {
		if len(members) > 1 {
			groups = append(groups, txn.HintGroup(members))
		}
	}

	block.HintGroups = groups
	return block
}
