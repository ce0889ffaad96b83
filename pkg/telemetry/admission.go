package telemetry

import (
	"context"
	"errors"

	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdmissionMetrics records coordinator events. It implements master.Monitor.
type AdmissionMetrics struct {
	admitted metric.Int64Counter
	rejected metric.Int64Counter
	finished metric.Int64Counter
	reaped   metric.Int64Counter
	active   metric.Int64UpDownCounter
}

// NewAdmissionMetrics registers the instruments on meter.
func NewAdmissionMetrics(meter metric.Meter) (*AdmissionMetrics, error) {
	admitted, err := meter.Int64Counter("hamaster.tx.admitted_total",
		metric.WithDescription("Transactions begun on behalf of a slave."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("hamaster.tx.rejected_total",
		metric.WithDescription("Transaction requests refused, by reason code."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("hamaster.tx.finished_total",
		metric.WithDescription("Transactions finished, by outcome."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	reaped, err := meter.Int64Counter("hamaster.tx.reaped_total",
		metric.WithDescription("Idle transactions rolled back by the reaper."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("hamaster.tx.active",
		metric.WithDescription("Transactions currently registered."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{
		admitted: admitted,
		rejected: rejected,
		finished: finished,
		reaped:   reaped,
		active:   active,
	}, nil
}

var _ master.Monitor = (*AdmissionMetrics)(nil)

func (m *AdmissionMetrics) TxAdmitted(protocol.ContextKey) {
	ctx := context.Background()
	m.admitted.Add(ctx, 1)
	m.active.Add(ctx, 1)
}

func (m *AdmissionMetrics) TxRejected(_ protocol.ContextKey, code protocol.ErrorCode) {
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", string(code))))
}

func (m *AdmissionMetrics) TxFinished(_ protocol.ContextKey, committed bool, err error) {
	ctx := context.Background()
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	switch {
	case errors.Is(err, master.ErrUnknownTransaction):
		outcome = "unknown"
	case err != nil:
		outcome = "failed"
	}
	m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != "unknown" {
		m.active.Add(ctx, -1)
	}
}

func (m *AdmissionMetrics) TxReaped(protocol.ContextKey) {
	ctx := context.Background()
	m.reaped.Add(ctx, 1)
	m.active.Add(ctx, -1)
}
