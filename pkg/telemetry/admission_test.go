package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func total(sum metricdata.Sum[int64]) int64 {
	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}

func TestAdmissionMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAdmissionMetrics(provider.Meter("test"))
	require.NoError(t, err)

	key := protocol.ContextKey{SessionID: 1, EventIdentifier: 1}
	m.TxAdmitted(key)
	m.TxAdmitted(key)
	m.TxAdmitted(key)
	m.TxRejected(key, protocol.CodeNotAccessible)
	m.TxFinished(key, true, nil)
	m.TxFinished(key, false, errors.New("rollback failed"))
	m.TxFinished(key, true, master.ErrUnknownTransaction)
	m.TxReaped(key)

	sums := collect(t, reader)
	require.Equal(t, int64(3), total(sums["hamaster.tx.admitted_total"]))
	require.Equal(t, int64(1), total(sums["hamaster.tx.rejected_total"]))
	require.Equal(t, int64(3), total(sums["hamaster.tx.finished_total"]))
	require.Len(t, sums["hamaster.tx.finished_total"].DataPoints, 3)
	require.Equal(t, int64(1), total(sums["hamaster.tx.reaped_total"]))
	require.Equal(t, int64(0), total(sums["hamaster.tx.active"]))
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	require.NoError(t, err)

	_, span := tel.Tracer.Start(context.Background(), "x")
	span.End()
	require.NoError(t, tel.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
	require.Empty(t, tel.Propagator.Fields())
}

func TestEnabledTelemetryServesPrometheus(t *testing.T) {
	tel, err := New(Config{Enabled: true, ServiceName: "ha-master-test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	require.Contains(t, tel.Propagator.Fields(), "traceparent")

	m, err := NewAdmissionMetrics(tel.Meter)
	require.NoError(t, err)
	m.TxAdmitted(protocol.ContextKey{})

	srv := httptest.NewServer(tel.Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "hamaster_tx_admitted")
}
