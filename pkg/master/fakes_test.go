package master

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/baxromumarov/ha-master/pkg/protocol"
)

type fakeOracle struct {
	accessible atomic.Bool
	calls      atomic.Int32
}

func newOracle(accessible bool) *fakeOracle {
	o := &fakeOracle{}
	o.accessible.Store(accessible)
	return o
}

func (o *fakeOracle) IsAccessible() bool {
	o.calls.Add(1)
	return o.accessible.Load()
}

type fakeHandle struct {
	id          string
	commitErr   error
	rollbackErr error
	committed   atomic.Int32
	rolledBack  atomic.Int32
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Commit(context.Context) error {
	h.committed.Add(1)
	return h.commitErr
}

func (h *fakeHandle) Rollback(context.Context) error {
	h.rolledBack.Add(1)
	return h.rollbackErr
}

// fakeBackend hands out fakeHandles, or fails with err when set.
type fakeBackend struct {
	mu           sync.Mutex
	err          error
	nilBoth      bool
	panicV       any
	beforeReturn func()
	calls        atomic.Int32
	handles      []*fakeHandle
}

func (b *fakeBackend) BeginTransaction(ctx context.Context) (TransactionHandle, error) {
	n := b.calls.Add(1)
	if b.beforeReturn != nil {
		b.beforeReturn()
	}
	if b.panicV != nil {
		panic(b.panicV)
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.nilBoth {
		return nil, nil
	}
	h := &fakeHandle{id: fmt.Sprintf("tx-%d", n)}
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

func (b *fakeBackend) all() []*fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeHandle(nil), b.handles...)
}

type recordingMonitor struct {
	mu       sync.Mutex
	admitted []protocol.ContextKey
	rejected []protocol.ErrorCode
	finished int
	reaped   []protocol.ContextKey
}

func (m *recordingMonitor) TxAdmitted(k protocol.ContextKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted = append(m.admitted, k)
}

func (m *recordingMonitor) TxRejected(_ protocol.ContextKey, code protocol.ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, code)
}

func (m *recordingMonitor) TxFinished(protocol.ContextKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
}

func (m *recordingMonitor) TxReaped(k protocol.ContextKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaped = append(m.reaped, k)
}

func testContext() protocol.RequestContext {
	return protocol.NewRequestContext(0, 1, 2, nil, 1, 0)
}
