package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslab/parex/model/txn"
)

func version(index int, incarnation uint32) txn.Version {
	return txn.Version{
		Index:       txn.Index(index),
		Incarnation: txn.Incarnation(incarnation),
	}
}

func TestDefaultConflictPolicy(t *testing.T) {
	p := DefaultConflictPolicy()
	assert.True(t, p.EarlyDetection())
	assert.Equal(
		t,
		WriteRejectStale,
		p.ResolveWrite(version(3, 2), version(3, 1)))
}

func TestResolveWriteNewerIncarnationAlwaysWins(t *testing.T) {
	for _, rule := range []CommitRule{FirstWins, LastWins} {
		p := NewConflictPolicy(true, rule)

		assert.Equal(
			t,
			WriteAccept,
			p.ResolveWrite(version(3, 1), version(3, 2)),
			rule.String())

		// Re-writes of the same incarnation replace in place.
		assert.Equal(
			t,
			WriteAccept,
			p.ResolveWrite(version(3, 1), version(3, 1)),
			rule.String())
	}
}

func TestResolveWriteStaleIncarnation(t *testing.T) {
	existing := version(3, 2)
	stale := version(3, 1)

	assert.Equal(
		t,
		WriteRejectStale,
		NewConflictPolicy(true, FirstWins).ResolveWrite(existing, stale))

	assert.Equal(
		t,
		WriteSkip,
		NewConflictPolicy(true, LastWins).ResolveWrite(existing, stale))
}

func TestEarlyDetectionToggle(t *testing.T) {
	assert.True(t, NewConflictPolicy(true, FirstWins).EarlyDetection())
	assert.False(t, NewConflictPolicy(false, FirstWins).EarlyDetection())
}

func TestCommitRuleString(t *testing.T) {
	assert.Equal(t, "first-wins", FirstWins.String())
	assert.Equal(t, "last-wins", LastWins.String())
	assert.Equal(t, "unknown", CommitRule(99).String())
}

func TestImmediateReschedulerNeverDefers(t *testing.T) {
	r := NewImmediateRescheduler()

	hints := []txn.HintGroup{{1, 5, 9}}
	placement := r.OnAbort(5, 1, hints)
	assert.True(t, placement.Immediate())
}

func TestLocalityReschedulerBlockedRead(t *testing.T) {
	r := NewLocalityRescheduler()

	placement := r.OnAbort(5, 2, nil)
	require.False(t, placement.Immediate())
	assert.Equal(t, []txn.Index{2}, placement.Prerequisites)
}

func TestLocalityReschedulerValidationAbort(t *testing.T) {
	r := NewLocalityRescheduler()

	// A validation abort carries no blocking index.
	placement := r.OnAbort(5, txn.InvalidVersion.Index, nil)
	assert.True(t, placement.Immediate())
}

func TestLocalityReschedulerHintGroups(t *testing.T) {
	r := NewLocalityRescheduler()

	hints := []txn.HintGroup{
		{1, 5, 9},  // contains 5: lower member 1 becomes a prerequisite
		{2, 3},     // does not contain 5: ignored
		{0, 5, 12}, // contains 5: lower member 0 becomes a prerequisite
	}

	placement := r.OnAbort(5, txn.InvalidVersion.Index, hints)
	require.False(t, placement.Immediate())
	assert.ElementsMatch(t, []txn.Index{0, 1}, placement.Prerequisites)
}

func TestLocalityReschedulerDeduplicates(t *testing.T) {
	r := NewLocalityRescheduler()

	// The blocked-on index also appears in a hint group; it must be listed
	// once. Higher-index peers never become prerequisites.
	hints := []txn.HintGroup{{2, 5, 7}}
	placement := r.OnAbort(5, 2, hints)
	assert.Equal(t, []txn.Index{2}, placement.Prerequisites)
}
