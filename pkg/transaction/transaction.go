// Package transaction tracks open transactions and their
// commit/rollback/expire state transitions for the multi-key atomic
// sequences the cache layer composes. Grounded on the teacher's
// registry-with-expiry shape (cuemby-warren/pkg/manager/token.go), one
// mutex guarding a map keyed by a generated id.
package transaction

import (
	"sync"
	"time"

	"github.com/cuemby/workloadcore/pkg/metrics"
	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/google/uuid"
)

// Config configures a Manager.
type Config struct {
	// MaxActive is the maximum number of simultaneously active
	// transactions. Begin fails once this cap would be exceeded.
	MaxActive int
	// Timeout is how long a transaction may remain active before
	// CleanupExpired transitions it to expired.
	Timeout time.Duration
}

// Manager tracks transaction lifecycle. All state transitions serialize
// on a single mutex.
type Manager struct {
	mu          sync.Mutex
	txns        map[string]*types.Transaction
	maxActive   int
	timeout     time.Duration
	activeCount int
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		txns:      make(map[string]*types.Transaction),
		maxActive: cfg.MaxActive,
		timeout:   cfg.Timeout,
	}
}

// ErrCapExceeded is returned by Begin when MaxActive active transactions
// already exist.
var ErrCapExceeded = errCapExceeded{}

type errCapExceeded struct{}

func (errCapExceeded) Error() string { return "active transaction cap exceeded" }

// Begin creates and registers a new active transaction for primaryKey,
// returning its id.
func (m *Manager) Begin(primaryKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCount >= m.maxActive {
		return "", ErrCapExceeded
	}

	id := uuid.NewString()
	m.txns[id] = &types.Transaction{
		ID:         id,
		PrimaryKey: primaryKey,
		StartedAt:  time.Now(),
		Status:     types.TransactionActive,
	}
	m.activeCount++
	metrics.TransactionsActive.Set(float64(m.activeCount))
	return id, nil
}

// RecordOp appends op to the transaction's operation log. No-op if the
// transaction does not exist or is no longer active.
func (m *Manager) RecordOp(id string, op types.RecordedOp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok || txn.Status != types.TransactionActive {
		return
	}
	txn.Operations = append(txn.Operations, op)
}

// Commit transitions id from active to committed. Returns whether the
// transition occurred; terminal states are sticky.
func (m *Manager) Commit(id string) bool {
	return m.transition(id, types.TransactionCommitted)
}

// Rollback transitions id from active to rolled_back. Returns whether
// the transition occurred; terminal states are sticky.
func (m *Manager) Rollback(id string) bool {
	return m.transition(id, types.TransactionRolledBack)
}

func (m *Manager) transition(id string, to types.TransactionStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[id]
	if !ok || txn.Status != types.TransactionActive {
		return false
	}
	txn.Status = to
	m.activeCount--
	metrics.TransactionsActive.Set(float64(m.activeCount))
	metrics.TransactionsTotal.WithLabelValues(string(to)).Inc()
	return true
}

// State returns the status of id and whether it exists.
func (m *Manager) State(id string) (types.TransactionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return "", false
	}
	return txn.Status, true
}

// Info returns a copy of the transaction record for id, or nil if it
// does not exist.
func (m *Manager) Info(id string) *types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return nil
	}
	cp := *txn
	cp.Operations = append([]types.RecordedOp(nil), txn.Operations...)
	return &cp
}

// All returns a snapshot of every tracked transaction, active or
// terminal, for bulk introspection — grounded on the original
// implementation's get_all_transaction_info.
func (m *Manager) All() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Transaction, 0, len(m.txns))
	for _, txn := range m.txns {
		cp := *txn
		cp.Operations = append([]types.RecordedOp(nil), txn.Operations...)
		out = append(out, &cp)
	}
	return out
}

// ActiveCount returns the number of currently active transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCount
}

// CleanupExpired transitions active transactions older than Timeout to
// expired, never touching already-terminal transactions. Returns the
// count transitioned.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.timeout)
	count := 0
	for _, txn := range m.txns {
		if txn.Status != types.TransactionActive {
			continue
		}
		if txn.StartedAt.Before(cutoff) {
			txn.Status = types.TransactionExpired
			m.activeCount--
			count++
			metrics.TransactionsTotal.WithLabelValues(string(types.TransactionExpired)).Inc()
		}
	}
	if count > 0 {
		metrics.TransactionsActive.Set(float64(m.activeCount))
	}
	return count
}
