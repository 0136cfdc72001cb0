package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sslab/parex/model/txn"
)

func TestVersionValidity(t *testing.T) {
	assert.False(t, txn.InvalidVersion.Valid())
	assert.True(t, txn.Version{Index: 0}.Valid())
	assert.True(t, txn.Version{Index: 7, Incarnation: 3}.Valid())
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "7/3", txn.Version{Index: 7, Incarnation: 3}.String())
}

func TestBlockSize(t *testing.T) {
	assert.Zero(t, (&txn.Block{}).Size())

	block := &txn.Block{Transactions: []txn.Transaction{"a", "b"}}
	assert.Equal(t, 2, block.Size())
}
