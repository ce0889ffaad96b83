package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/baxromumarov/ha-master/pkg/backend"
	"github.com/baxromumarov/ha-master/pkg/cluster"
	"github.com/baxromumarov/ha-master/pkg/config"
	"github.com/baxromumarov/ha-master/pkg/logger"
	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/baxromumarov/ha-master/pkg/telemetry"
	"github.com/baxromumarov/ha-master/pkg/transport"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, cfg config.Config) error {
	log, err := logger.New(cfg.Log, "ha-master")
	if err != nil {
		return pkgerrors.Wrap(err, "logger")
	}
	defer log.Sync()

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return pkgerrors.Wrap(err, "telemetry")
	}
	defer tel.Shutdown(context.Background())

	metrics, err := telemetry.NewAdmissionMetrics(tel.Meter)
	if err != nil {
		return pkgerrors.Wrap(err, "admission metrics")
	}

	txBackend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	// Peers are presumed alive until the first probe says otherwise
	clstr := cluster.NewCluster(log)
	for _, addr := range cfg.Members() {
		m := cluster.NewMember(addr, protocol.RoleSlave)
		m.SetAlive(true)
		clstr.AddMember(m)
	}
	self := clstr.Member(cfg.Self)

	client := transport.DefaultHTTPClient().WithPropagator(tel.Propagator)
	heartbeat := cluster.NewHeartbeatManager(clstr, client, cfg.Self, cfg.HeartbeatInterval, log)
	heartbeat.CheckAll()
	heartbeat.Start()
	defer heartbeat.Stop()

	oracle := cluster.NewOracle(clstr, cfg.Self)
	coord := master.NewCoordinator(oracle, txBackend,
		master.WithLogger(log),
		master.WithMonitor(metrics),
		master.WithTracer(tel.Tracer),
	)
	coord.Start()

	reaper := master.NewReaper(coord, cfg.ReapInterval, cfg.TxIdleTimeout, log)
	reaper.Start()

	server := transport.NewHTTPServer(cfg.Listen, log)
	server.SetTxService(coord)
	server.SetRoleFunc(self.Role)
	server.SetAccessibleFunc(oracle.IsAccessible)
	server.SetClusterInfoHandler(clstr.Info)
	server.SetPropagator(tel.Propagator)

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Handler)
		metricsServer = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", zap.String("addr", cfg.MetricsListen))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- pkgerrors.Wrap(err, "metrics server")
			}
		}()
	}

	log.Info("node started",
		zap.String("self", cfg.Self),
		zap.Strings("members", cfg.Members()),
		zap.Duration("lock_read_timeout", cfg.LockReadTimeout),
		zap.Duration("tx_idle_timeout", cfg.TxIdleTimeout),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server stopped", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	reaper.Stop()
	coord.Stop(shutdownCtx)
	return runErr
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (master.TransactionBackend, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no DSN configured, using in-memory backend", zap.Int("capacity", cfg.MemoryCapacity))
		return backend.NewMemory(cfg.MemoryCapacity), func() {}, nil
	}

	pool, err := backend.OpenPool(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, "open postgres")
	}
	return backend.NewPgx(pool, cfg.LockReadTimeout, log), pool.Close, nil
}
