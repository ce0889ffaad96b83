package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.uber.org/zap"
)

// HealthChecker probes a member's health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context, addr string) (*protocol.HealthResponse, error)
}

// HeartbeatManager periodically probes every member and re-runs the
// election afterwards.
type HeartbeatManager struct {
	cluster  *Cluster
	client   HealthChecker
	self     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatManager creates a heartbeat manager. The member at self is
// never probed; it is alive for as long as this process runs.
func NewHeartbeatManager(c *Cluster, client HealthChecker, self string, interval time.Duration, logger *zap.Logger) *HeartbeatManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeartbeatManager{
		cluster:  c,
		client:   client,
		self:     self,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   logger.Named("heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat loop
func (h *HeartbeatManager) Start() {
	h.wg.Add(1)
	go h.run()
	h.logger.Info("started", zap.Duration("interval", h.interval))
}

// Stop stops the heartbeat manager. Safe to call twice.
func (h *HeartbeatManager) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.logger.Info("stopped")
	})
}

func (h *HeartbeatManager) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckAll()

	for {
		select {
		case <-ticker.C:
			h.CheckAll()
		case <-h.stopCh:
			return
		}
	}
}

// CheckAll probes every member concurrently, then re-runs the election.
func (h *HeartbeatManager) CheckAll() {
	members := h.cluster.Members()

	var wg sync.WaitGroup
	for _, m := range members {
		if m.Addr == h.self {
			m.SetAlive(true)
			continue
		}
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			h.check(m)
		}(m)
	}
	wg.Wait()

	h.cluster.CheckAndElect()
}

func (h *HeartbeatManager) check(m *Member) {
	wasAlive := m.Alive()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if _, err := h.client.HealthCheck(ctx, m.Addr); err != nil {
		m.SetAlive(false)
		if wasAlive {
			h.logger.Warn("member is now dead", zap.String("addr", m.Addr), zap.Error(err))
		}
		return
	}

	m.SetAlive(true)
	if !wasAlive {
		h.logger.Info("member is now alive", zap.String("addr", m.Addr))
	}
}
