package master

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper rolls back transactions whose slave has gone quiet for longer than
// the idle timeout.
type Reaper struct {
	coord    *Coordinator
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReaper creates a reaper that sweeps every interval
func NewReaper(coord *Coordinator, interval, timeout time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		coord:    coord,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("reaper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("started", zap.Duration("interval", r.interval), zap.Duration("idle_timeout", r.timeout))
}

// Stop stops the sweep loop and waits for it to exit. Safe to call twice.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		r.logger.Info("stopped")
	})
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Sweep rolls back every idle transaction once and returns how many it
// removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.coord.now()
	reaped := 0
	for _, key := range r.coord.registry.Idle(now, r.timeout) {
		e, ok := r.coord.registry.RemoveIfIdle(key, now, r.timeout)
		if !ok {
			continue
		}
		reaped++
		if err := e.Handle.Rollback(ctx); err != nil {
			r.logger.Warn("rollback of idle transaction failed",
				zap.Stringer("key", key), zap.String("tx", e.Handle.ID()), zap.Error(err))
		} else {
			r.logger.Info("rolled back idle transaction",
				zap.Stringer("key", key), zap.String("tx", e.Handle.ID()),
				zap.Duration("idle", now.Sub(e.LastActivity)))
		}
		r.coord.monitor.TxReaped(key)
	}
	return reaped
}
