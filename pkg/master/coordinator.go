package master

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Coordinator admits transaction requests from slaves. It begins a
// master-local transaction for each admitted request and files it in the
// registry under the request key.
type Coordinator struct {
	oracle   AccessibilityOracle
	backend  TransactionBackend
	registry *Registry

	logger  *zap.Logger
	monitor Monitor
	tracer  trace.Tracer
	now     func() time.Time

	running atomic.Bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMonitor sets the event monitor
func WithMonitor(m Monitor) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.monitor = m
		}
	}
}

// WithTracer sets the tracer used for per-request spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRegistry shares an existing registry
func WithRegistry(r *Registry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.registry = r
		}
	}
}

// NewCoordinator creates a stopped coordinator. Call Start before use.
func NewCoordinator(oracle AccessibilityOracle, backend TransactionBackend, opts ...Option) *Coordinator {
	c := &Coordinator{
		oracle:   oracle,
		backend:  backend,
		registry: NewRegistry(),
		logger:   zap.NewNop(),
		monitor:  nopMonitor{},
		tracer:   nooptrace.NewTracerProvider().Tracer(""),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("coordinator")
	return c
}

// Start makes the coordinator accept requests
func (c *Coordinator) Start() {
	c.running.Store(true)
	c.logger.Info("coordinator started")
}

// Stop refuses further admissions and rolls back every registered
// transaction.
func (c *Coordinator) Stop(ctx context.Context) {
	if !c.running.Swap(false) {
		return
	}
	for _, key := range c.registry.Keys() {
		e, ok := c.registry.Remove(key)
		if !ok {
			continue
		}
		err := e.Handle.Rollback(ctx)
		if err != nil {
			c.logger.Warn("rollback on shutdown failed",
				zap.Stringer("key", key), zap.String("tx", e.Handle.ID()), zap.Error(err))
		}
		c.monitor.TxFinished(key, false, err)
	}
	c.logger.Info("coordinator stopped")
}

// Running reports whether Start has been called without a later Stop
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Registry exposes the transaction registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// InitializeTx admits rc and begins a master-local transaction for it.
// It returns nil on success and a *Failure otherwise: NotAccessible when
// the oracle refuses, BeginFailed when the backend cannot begin or the key
// is already registered. Nothing is registered on any failure path.
//
// The begin call is detached from ctx cancellation; ctx values (trace
// context) are still propagated.
func (c *Coordinator) InitializeTx(ctx context.Context, rc protocol.RequestContext) error {
	key := rc.Key()
	ctx, span := c.tracer.Start(ctx, "master.InitializeTx", trace.WithAttributes(
		attribute.Int64("session.id", key.SessionID),
		attribute.Int64("event.id", key.EventIdentifier),
		attribute.Int("machine.id", int(rc.MachineID())),
	))
	defer span.End()

	err := c.initialize(ctx, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		c.monitor.TxRejected(key, CodeOf(err))
		return err
	}
	c.monitor.TxAdmitted(key)
	return nil
}

func (c *Coordinator) initialize(ctx context.Context, rc protocol.RequestContext) error {
	key := rc.Key()
	log := c.logger.With(zap.Stringer("key", key), zap.Int32("machine", rc.MachineID()))

	if !c.running.Load() || !c.oracle.IsAccessible() {
		log.Debug("rejecting transaction, master not accessible")
		return &Failure{Kind: NotAccessible, Key: key}
	}

	handle, err := c.begin(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("unable to begin transaction", zap.Error(err))
		return &Failure{Kind: BeginFailed, Key: key, Cause: err}
	}

	now := c.now()
	if err := c.registry.Put(key, Entry{
		Handle:       handle,
		Context:      rc,
		AdmittedAt:   now,
		LastActivity: now,
	}); err != nil {
		if rbErr := handle.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Error("rollback of duplicate transaction failed",
				zap.String("tx", handle.ID()), zap.Error(rbErr))
		}
		log.Warn("rejecting duplicate transaction request", zap.String("tx", handle.ID()))
		return &Failure{Kind: BeginFailed, Key: key, Cause: err}
	}

	// Stop flips running before draining, so an entry put after the drain
	// is seen here and released.
	if !c.running.Load() {
		if c.registry.RemoveHandle(key, handle) {
			if rbErr := handle.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Error("rollback after stop failed", zap.String("tx", handle.ID()), zap.Error(rbErr))
			}
		}
		log.Debug("rejecting transaction, coordinator stopped during begin", zap.String("tx", handle.ID()))
		return &Failure{Kind: NotAccessible, Key: key}
	}

	log.Debug("transaction initialized", zap.String("tx", handle.ID()))
	return nil
}

// begin calls the backend and normalises contract violations into errors.
func (c *Coordinator) begin(ctx context.Context) (handle TransactionHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle = nil
			err = fmt.Errorf("transaction backend panicked: %v", r)
		}
	}()

	handle, err = c.backend.BeginTransaction(ctx)
	switch {
	case err != nil && handle != nil:
		if rbErr := handle.Rollback(ctx); rbErr != nil {
			c.logger.Error("rollback of half-begun transaction failed", zap.Error(rbErr))
		}
		return nil, err
	case err != nil:
		return nil, err
	case handle == nil:
		return nil, ErrNilHandle
	}
	return handle, nil
}

// FinishTx removes the transaction registered for rc and commits it when
// success is true, rolls it back otherwise. The entry is gone afterwards
// even if the commit or rollback fails.
func (c *Coordinator) FinishTx(ctx context.Context, rc protocol.RequestContext, success bool) error {
	key := rc.Key()
	ctx, span := c.tracer.Start(ctx, "master.FinishTx", trace.WithAttributes(
		attribute.Int64("session.id", key.SessionID),
		attribute.Int64("event.id", key.EventIdentifier),
		attribute.Bool("success", success),
	))
	defer span.End()

	e, ok := c.registry.Remove(key)
	if !ok {
		span.SetStatus(codes.Error, "unknown transaction")
		c.monitor.TxFinished(key, success, ErrUnknownTransaction)
		return ErrUnknownTransaction
	}

	var err error
	if success {
		err = e.Handle.Commit(ctx)
	} else {
		err = e.Handle.Rollback(ctx)
	}
	if err != nil {
		c.logger.Warn("unable to finish transaction",
			zap.Stringer("key", key), zap.String("tx", e.Handle.ID()), zap.Bool("commit", success), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "finish failed")
		f := &Failure{Kind: FinishFailed, Key: key, Cause: err}
		c.monitor.TxFinished(key, success, f)
		return f
	}

	c.logger.Debug("transaction finished",
		zap.Stringer("key", key), zap.String("tx", e.Handle.ID()), zap.Bool("commit", success))
	c.monitor.TxFinished(key, success, nil)
	return nil
}

// KeepAlive marks the transaction for rc as active
func (c *Coordinator) KeepAlive(rc protocol.RequestContext) error {
	if !c.registry.Touch(rc.Key(), c.now()) {
		return ErrUnknownTransaction
	}
	return nil
}

// Active lists registered transactions
func (c *Coordinator) Active() []protocol.ActiveTx {
	entries := c.registry.Snapshot()
	out := make([]protocol.ActiveTx, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.ActiveTx{
			SessionID:       e.Context.SessionID(),
			EventIdentifier: e.Context.EventIdentifier(),
			MachineID:       e.Context.MachineID(),
			TransactionID:   e.Handle.ID(),
			AdmittedAt:      e.AdmittedAt,
			LastActivity:    e.LastActivity,
		})
	}
	return out
}

// TransactionID returns the backend id of the transaction filed under key
func (c *Coordinator) TransactionID(key protocol.ContextKey) (string, bool) {
	e, ok := c.registry.Get(key)
	if !ok {
		return "", false
	}
	return e.Handle.ID(), true
}
