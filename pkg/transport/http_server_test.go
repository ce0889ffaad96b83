package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baxromumarov/ha-master/pkg/backend"
	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testNode struct {
	server     *httptest.Server
	addr       string
	client     *HTTPClient
	coord      *master.Coordinator
	backend    *backend.Memory
	accessible atomic.Bool
}

func newTestNode(t *testing.T, capacity int) *testNode {
	t.Helper()
	n := &testNode{backend: backend.NewMemory(capacity)}
	n.accessible.Store(true)

	n.coord = master.NewCoordinator(master.OracleFunc(n.accessible.Load), n.backend)
	n.coord.Start()

	s := NewHTTPServer("test", nil)
	s.SetTxService(n.coord)
	s.SetAccessibleFunc(n.accessible.Load)
	s.SetRoleFunc(func() protocol.NodeRole { return protocol.RoleMaster })
	s.SetClusterInfoHandler(func() *protocol.ClusterInfoResponse {
		return &protocol.ClusterInfoResponse{
			MasterAddr: "test",
			Nodes:      []protocol.NodeInfo{{Address: "test", Role: string(protocol.RoleMaster), Alive: true}},
		}
	})

	n.server = httptest.NewServer(s.Handler())
	t.Cleanup(n.server.Close)
	n.addr = n.server.Listener.Addr().String()
	n.client = NewHTTPClient(5 * time.Second)
	return n
}

func TestServerInitializeAndFinish(t *testing.T) {
	n := newTestNode(t, 0)
	ctx := context.Background()
	rc := protocol.NewRequestContext(0, 1, 2, nil, 1, 0)

	resp, err := n.client.InitializeTx(ctx, n.addr, rc)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code)
	require.NotEmpty(t, resp.TransactionID)
	require.Equal(t, 1, n.backend.Open())

	active, err := n.client.ActiveTx(ctx, n.addr)
	require.NoError(t, err)
	require.Equal(t, 1, active.Total)
	require.Equal(t, resp.TransactionID, active.Transactions[0].TransactionID)

	resp, err = n.client.KeepAlive(ctx, n.addr, rc)
	require.NoError(t, err)
	require.True(t, resp.OK())

	resp, err = n.client.FinishTx(ctx, n.addr, rc, true)
	require.NoError(t, err)
	require.True(t, resp.OK())
	commits, _ := n.backend.Stats()
	require.Equal(t, 1, commits)

	resp, err = n.client.FinishTx(ctx, n.addr, rc, true)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeUnknownTransaction, resp.Code)
}

func TestServerNotAccessible(t *testing.T) {
	n := newTestNode(t, 0)
	n.accessible.Store(false)

	resp, err := n.client.InitializeTx(context.Background(), n.addr, protocol.NewRequestContext(0, 1, 2, nil, 1, 0))
	require.NoError(t, err)
	require.Equal(t, protocol.CodeNotAccessible, resp.Code)
	require.True(t, resp.Code.Retryable())
	require.Zero(t, n.backend.Open())
	require.Zero(t, n.coord.Registry().Len())
}

func TestServerBeginFailed(t *testing.T) {
	n := newTestNode(t, 1)
	ctx := context.Background()

	_, err := n.client.InitializeTx(ctx, n.addr, protocol.NewRequestContext(0, 1, 2, nil, 1, 0))
	require.NoError(t, err)

	resp, err := n.client.InitializeTx(ctx, n.addr, protocol.NewRequestContext(0, 1, 3, nil, 1, 0))
	require.NoError(t, err)
	require.Equal(t, protocol.CodeBeginFailed, resp.Code)
	require.Contains(t, resp.Error, "capacity exhausted")
	require.Equal(t, 1, n.coord.Registry().Len())
}

func TestServerRejectsInvalidContext(t *testing.T) {
	n := newTestNode(t, 0)

	resp, err := n.client.InitializeTx(context.Background(), n.addr, protocol.NewRequestContext(0, 1, -5, nil, 1, 0))
	require.NoError(t, err)
	require.Equal(t, protocol.CodeBadRequest, resp.Code)

	httpResp, err := http.Post("http://"+n.addr+"/tx/initialize", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
	require.Zero(t, n.backend.Open())
}

func TestServerHealthAndCluster(t *testing.T) {
	n := newTestNode(t, 0)
	ctx := context.Background()

	health, err := n.client.HealthCheck(ctx, n.addr)
	require.NoError(t, err)
	require.Equal(t, "MASTER", health.Role)
	require.True(t, health.Accessible)

	role, err := n.client.GetRole(ctx, n.addr)
	require.NoError(t, err)
	require.Equal(t, "MASTER", role.Role)

	info, err := n.client.ClusterNodes(ctx, n.addr)
	require.NoError(t, err)
	require.Equal(t, "test", info.MasterAddr)
	require.Len(t, info.Nodes, 1)
}

func TestServerWithoutTxService(t *testing.T) {
	s := NewHTTPServer("test", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/initialize", bytes.NewBufferString("{}")))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cluster/nodes", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type traceRecorder struct {
	TxService
	seen trace.SpanContext
}

func (r *traceRecorder) InitializeTx(ctx context.Context, rc protocol.RequestContext) error {
	r.seen = trace.SpanContextFromContext(ctx)
	return r.TxService.InitializeTx(ctx, rc)
}

func TestTraceContextUsesConfiguredPropagator(t *testing.T) {
	coord := master.NewCoordinator(master.OracleFunc(func() bool { return true }), backend.NewMemory(0))
	coord.Start()
	rec := &traceRecorder{TxService: coord}

	s := NewHTTPServer("test", nil)
	s.SetTxService(rec)
	s.SetPropagator(propagation.TraceContext{})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	client := NewHTTPClient(5 * time.Second).WithPropagator(propagation.TraceContext{})
	resp, err := client.InitializeTx(ctx, server.Listener.Addr().String(), protocol.NewRequestContext(0, 1, 2, nil, 1, 0))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, sc.TraceID(), rec.seen.TraceID())
	require.True(t, rec.seen.IsRemote())
}
