package transaction

import (
	"testing"
	"time"

	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginCommit(t *testing.T) {
	m := New(Config{MaxActive: 10, Timeout: time.Minute})

	id, err := m.Begin("key1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	status, ok := m.State(id)
	require.True(t, ok)
	assert.Equal(t, types.TransactionActive, status)

	assert.True(t, m.Commit(id))
	status, _ = m.State(id)
	assert.Equal(t, types.TransactionCommitted, status)
}

func TestTerminalStatesAreSticky(t *testing.T) {
	m := New(Config{MaxActive: 10, Timeout: time.Minute})

	id, err := m.Begin("key1")
	require.NoError(t, err)
	require.True(t, m.Rollback(id))

	assert.False(t, m.Commit(id), "commit after rollback must fail")
	status, _ := m.State(id)
	assert.Equal(t, types.TransactionRolledBack, status)

	id2, err := m.Begin("key2")
	require.NoError(t, err)
	require.True(t, m.Commit(id2))
	assert.False(t, m.Rollback(id2), "rollback after commit must fail")
	status, _ = m.State(id2)
	assert.Equal(t, types.TransactionCommitted, status)
}

func TestBeginFailsAtCap(t *testing.T) {
	m := New(Config{MaxActive: 1, Timeout: time.Minute})

	_, err := m.Begin("key1")
	require.NoError(t, err)

	_, err = m.Begin("key2")
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestCleanupExpiredOnlyTouchesTimedOutActive(t *testing.T) {
	m := New(Config{MaxActive: 10, Timeout: time.Millisecond})

	activeID, err := m.Begin("key1")
	require.NoError(t, err)

	committedID, err := m.Begin("key2")
	require.NoError(t, err)
	require.True(t, m.Commit(committedID))

	time.Sleep(5 * time.Millisecond)
	n := m.CleanupExpired()
	assert.Equal(t, 1, n)

	status, _ := m.State(activeID)
	assert.Equal(t, types.TransactionExpired, status)
	status, _ = m.State(committedID)
	assert.Equal(t, types.TransactionCommitted, status, "cleanup must never touch terminal transactions")
}

func TestRecordOpAndInfo(t *testing.T) {
	m := New(Config{MaxActive: 10, Timeout: time.Minute})
	id, err := m.Begin("key1")
	require.NoError(t, err)

	m.RecordOp(id, types.RecordedOp{Operation: types.WALOpSet, Key: "key1", HadPrevious: false})
	info := m.Info(id)
	require.NotNil(t, info)
	assert.Len(t, info.Operations, 1)
}

func TestAllReturnsActiveAndTerminalTransactions(t *testing.T) {
	m := New(Config{MaxActive: 10, Timeout: time.Minute})

	activeID, err := m.Begin("key1")
	require.NoError(t, err)
	committedID, err := m.Begin("key2")
	require.NoError(t, err)
	require.True(t, m.Commit(committedID))

	all := m.All()
	require.Len(t, all, 2)

	seen := map[string]types.TransactionStatus{}
	for _, txn := range all {
		seen[txn.ID] = txn.Status
	}
	assert.Equal(t, types.TransactionActive, seen[activeID])
	assert.Equal(t, types.TransactionCommitted, seen[committedID])
}
