package master

import "context"

// AccessibilityOracle reports whether this master may coordinate new
// distributed transactions right now. Implementations must be cheap and
// free of side effects.
type AccessibilityOracle interface {
	IsAccessible() bool
}

// TransactionBackend begins master-local transactions. It must return either
// a handle or an error, never both.
type TransactionBackend interface {
	BeginTransaction(ctx context.Context) (TransactionHandle, error)
}

// TransactionHandle is one live master-local transaction.
type TransactionHandle interface {
	ID() string
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OracleFunc adapts a plain function to AccessibilityOracle.
type OracleFunc func() bool

func (f OracleFunc) IsAccessible() bool { return f() }
