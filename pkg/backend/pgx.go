package backend

import (
	"context"
	"strconv"
	"time"

	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Beginner is the part of *pgxpool.Pool the backend needs
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pgx begins master-local transactions on Postgres. Every transaction gets
// the configured lock timeout applied with SET LOCAL semantics.
type Pgx struct {
	db          Beginner
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewPgx creates a backend on db. A zero lockTimeout leaves the server
// default in place.
func NewPgx(db Beginner, lockTimeout time.Duration, logger *zap.Logger) *Pgx {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pgx{
		db:          db,
		lockTimeout: lockTimeout,
		logger:      logger.Named("pgx"),
	}
}

// OpenPool connects to dsn and verifies the connection
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return pool, nil
}

func (p *Pgx) BeginTransaction(ctx context.Context) (master.TransactionHandle, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}

	if p.lockTimeout > 0 {
		ms := lockTimeoutMillis(p.lockTimeout)
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", formatMillis(ms)); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				p.logger.Warn("rollback after failed lock timeout setup", zap.Error(rbErr))
			}
			return nil, errors.Wrapf(err, "set lock_timeout to %dms", ms)
		}
	}

	return &PgxHandle{id: uuid.NewString(), tx: tx}, nil
}

// PgxHandle is a live Postgres transaction
type PgxHandle struct {
	id string
	tx pgx.Tx
}

func (h *PgxHandle) ID() string { return h.id }

// Tx exposes the underlying transaction to the code that runs the slave's
// statements.
func (h *PgxHandle) Tx() pgx.Tx { return h.tx }

func (h *PgxHandle) Commit(ctx context.Context) error {
	return errors.Wrapf(h.tx.Commit(ctx), "commit transaction %s", h.id)
}

// Rollback of an already closed transaction is not an error.
func (h *PgxHandle) Rollback(ctx context.Context) error {
	err := h.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.Wrapf(err, "rollback transaction %s", h.id)
}

// lockTimeoutMillis rounds up so a positive timeout never becomes 0,
// which Postgres treats as no timeout.
func lockTimeoutMillis(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10) + "ms"
}
