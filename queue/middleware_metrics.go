package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kit/metric"
)

// Metrics is a metrics middleware for a queue.
type Metrics struct {
	rec *metric.REDClient
	q   depot.Queue
}

// NewMetrics returns a metrics middleware for q.
func NewMetrics(reg prometheus.Registerer, q depot.Queue) *Metrics {
	return &Metrics{
		rec: metric.New(reg, "queue"),
		q:   q,
	}
}

var _ depot.Queue = (*Metrics)(nil)

func (m *Metrics) Send(ctx context.Context, topic string, body depot.MessageBody) (string, error) {
	rec := m.rec.Record("send")
	id, err := m.q.Send(ctx, topic, body)
	return id, rec(err)
}

func (m *Metrics) SendWithID(ctx context.Context, topic, id string, body depot.MessageBody) error {
	rec := m.rec.Record("send_with_id")
	return rec(m.q.SendWithID(ctx, topic, id, body))
}

func (m *Metrics) ReserveNext(ctx context.Context, topic, pid string) (*depot.Message, error) {
	rec := m.rec.Record("reserve_next")
	msg, err := m.q.ReserveNext(ctx, topic, pid)
	return msg, rec(err)
}

func (m *Metrics) Acknowledge(ctx context.Context, id, pid string) error {
	rec := m.rec.Record("acknowledge")
	return rec(m.q.Acknowledge(ctx, id, pid))
}

func (m *Metrics) ExtendLease(ctx context.Context, id, pid string) error {
	rec := m.rec.Record("extend_lease")
	return rec(m.q.ExtendLease(ctx, id, pid))
}

func (m *Metrics) List(ctx context.Context, filter depot.MessageFilter) ([]*depot.Message, error) {
	rec := m.rec.Record("list")
	msgs, err := m.q.List(ctx, filter)
	return msgs, rec(err)
}
