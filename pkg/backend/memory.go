package backend

import (
	"context"
	"sync"

	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrCapacityExhausted = errors.New("transaction capacity exhausted")
	ErrTxClosed          = errors.New("transaction already closed")
)

// Memory is an in-process backend for development and tests. Transactions
// carry no data; the backend only enforces a cap on concurrently open ones.
type Memory struct {
	mu       sync.Mutex
	capacity int
	open     map[string]*MemoryHandle
	commits  int
	aborts   int
}

// NewMemory creates a backend allowing at most capacity open transactions.
// Zero means unlimited.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		open:     make(map[string]*MemoryHandle),
	}
}

func (m *Memory) BeginTransaction(ctx context.Context) (master.TransactionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity > 0 && len(m.open) >= m.capacity {
		return nil, errors.Wrapf(ErrCapacityExhausted, "%d open", len(m.open))
	}
	h := &MemoryHandle{id: uuid.NewString(), owner: m}
	m.open[h.id] = h
	return h, nil
}

// Open returns the number of transactions neither committed nor rolled back
func (m *Memory) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Stats returns how many transactions were committed and rolled back
func (m *Memory) Stats() (commits, aborts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits, m.aborts
}

func (m *Memory) close(id string, commit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.open[id]; !ok {
		return errors.Wrapf(ErrTxClosed, "transaction %s", id)
	}
	delete(m.open, id)
	if commit {
		m.commits++
	} else {
		m.aborts++
	}
	return nil
}

// MemoryHandle is a transaction begun by Memory
type MemoryHandle struct {
	id    string
	owner *Memory
}

func (h *MemoryHandle) ID() string { return h.id }

func (h *MemoryHandle) Commit(context.Context) error {
	return h.owner.close(h.id, true)
}

func (h *MemoryHandle) Rollback(context.Context) error {
	return h.owner.close(h.id, false)
}
