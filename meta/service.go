package meta

import (
	"context"

	"github.com/depotdb/depot"
)

// MetaService is the combined metadata contract served by this package.
type MetaService interface {
	depot.DatasetService
	depot.VersionService
}

// Service validates arguments before handing them to the Store. Schema
// validation is part of the metadata contract: invalid shapes fail with
// EInvalid before touching storage.
type Service struct {
	store *Store
}

// NewService constructs the validating service over store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

var _ MetaService = (*Service)(nil)

// CreateDataset validates, applies defaults and persists a dataset.
func (s *Service) CreateDataset(ctx context.Context, d *depot.Dataset) error {
	if d == nil {
		return &depot.Error{Code: depot.EInvalid, Msg: "dataset must not be nil"}
	}
	d.SetDefaults()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ActiveVersion != "" {
		return &depot.Error{Code: depot.EInvalid, Msg: "active-version cannot be set at creation"}
	}
	return s.store.CreateDataset(ctx, d)
}

// FindDataset returns the named dataset.
func (s *Service) FindDataset(ctx context.Context, name string) (*depot.Dataset, error) {
	if !depot.ValidName(name) {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "dataset name must be a non-empty web-safe string"}
	}
	return s.store.FindDataset(ctx, name)
}

// ListDatasets returns every dataset.
func (s *Service) ListDatasets(ctx context.Context) ([]*depot.Dataset, error) {
	return s.store.ListDatasets(ctx)
}

// CreateVersion validates and persists a version.
func (s *Service) CreateVersion(ctx context.Context, v *depot.Version) error {
	if v == nil {
		return &depot.Error{Code: depot.EInvalid, Msg: "version must not be nil"}
	}
	if v.Status == "" {
		v.Status = depot.StatusPreparing
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return s.store.CreateVersion(ctx, v)
}

// FindVersion returns the version with the given id.
func (s *Service) FindVersion(ctx context.Context, id string) (*depot.Version, error) {
	if id == "" {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "version id must not be empty"}
	}
	return s.store.FindVersion(ctx, id)
}

// ListVersions returns versions matching the filter.
func (s *Service) ListVersions(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error) {
	if filter.Dataset != nil && !depot.ValidName(*filter.Dataset) {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "dataset filter must be a non-empty web-safe string"}
	}
	return s.store.ListVersions(ctx, filter)
}

// UpdateStatus moves a version along the lifecycle graph.
func (s *Service) UpdateStatus(ctx context.Context, id string, target depot.Status, audit map[string]string) (*depot.Version, error) {
	if id == "" {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "version id must not be empty"}
	}
	return s.store.UpdateStatus(ctx, id, target, audit)
}

// ActivateVersion flips the owning dataset's active-version pointer.
func (s *Service) ActivateVersion(ctx context.Context, id string) error {
	if id == "" {
		return &depot.Error{Code: depot.EInvalid, Msg: "version id must not be empty"}
	}
	return s.store.ActivateVersion(ctx, id)
}
