package meta

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kit/metric"
)

// Metrics is a metrics middleware for the metadata service.
type Metrics struct {
	rec *metric.REDClient
	svc MetaService
}

// NewMetrics returns a metrics service middleware for the metadata service.
func NewMetrics(reg prometheus.Registerer, s MetaService) *Metrics {
	return &Metrics{
		rec: metric.New(reg, "meta"),
		svc: s,
	}
}

var _ MetaService = (*Metrics)(nil)

func (m *Metrics) CreateDataset(ctx context.Context, d *depot.Dataset) error {
	rec := m.rec.Record("create_dataset")
	return rec(m.svc.CreateDataset(ctx, d))
}

func (m *Metrics) FindDataset(ctx context.Context, name string) (*depot.Dataset, error) {
	rec := m.rec.Record("find_dataset")
	d, err := m.svc.FindDataset(ctx, name)
	return d, rec(err)
}

func (m *Metrics) ListDatasets(ctx context.Context) ([]*depot.Dataset, error) {
	rec := m.rec.Record("list_datasets")
	ds, err := m.svc.ListDatasets(ctx)
	return ds, rec(err)
}

func (m *Metrics) CreateVersion(ctx context.Context, v *depot.Version) error {
	rec := m.rec.Record("create_version")
	return rec(m.svc.CreateVersion(ctx, v))
}

func (m *Metrics) FindVersion(ctx context.Context, id string) (*depot.Version, error) {
	rec := m.rec.Record("find_version")
	v, err := m.svc.FindVersion(ctx, id)
	return v, rec(err)
}

func (m *Metrics) ListVersions(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error) {
	rec := m.rec.Record("list_versions")
	vs, err := m.svc.ListVersions(ctx, filter)
	return vs, rec(err)
}

func (m *Metrics) UpdateStatus(ctx context.Context, id string, target depot.Status, audit map[string]string) (*depot.Version, error) {
	rec := m.rec.Record("update_status")
	v, err := m.svc.UpdateStatus(ctx, id, target, audit)
	return v, rec(err)
}

func (m *Metrics) ActivateVersion(ctx context.Context, id string) error {
	rec := m.rec.Record("activate_version")
	return rec(m.svc.ActivateVersion(ctx, id))
}
