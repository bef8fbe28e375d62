// Package mock provides function-field fakes of the service contracts for
// tests.
package mock

import (
	"context"

	"github.com/depotdb/depot"
)

// MetaService is a mock of the combined metadata contract.
type MetaService struct {
	CreateDatasetFn   func(ctx context.Context, d *depot.Dataset) error
	FindDatasetFn     func(ctx context.Context, name string) (*depot.Dataset, error)
	ListDatasetsFn    func(ctx context.Context) ([]*depot.Dataset, error)
	CreateVersionFn   func(ctx context.Context, v *depot.Version) error
	FindVersionFn     func(ctx context.Context, id string) (*depot.Version, error)
	ListVersionsFn    func(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error)
	UpdateStatusFn    func(ctx context.Context, id string, target depot.Status, audit map[string]string) (*depot.Version, error)
	ActivateVersionFn func(ctx context.Context, id string) error
}

func (s *MetaService) CreateDataset(ctx context.Context, d *depot.Dataset) error {
	return s.CreateDatasetFn(ctx, d)
}

func (s *MetaService) FindDataset(ctx context.Context, name string) (*depot.Dataset, error) {
	return s.FindDatasetFn(ctx, name)
}

func (s *MetaService) ListDatasets(ctx context.Context) ([]*depot.Dataset, error) {
	return s.ListDatasetsFn(ctx)
}

func (s *MetaService) CreateVersion(ctx context.Context, v *depot.Version) error {
	return s.CreateVersionFn(ctx, v)
}

func (s *MetaService) FindVersion(ctx context.Context, id string) (*depot.Version, error) {
	return s.FindVersionFn(ctx, id)
}

func (s *MetaService) ListVersions(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error) {
	return s.ListVersionsFn(ctx, filter)
}

func (s *MetaService) UpdateStatus(ctx context.Context, id string, target depot.Status, audit map[string]string) (*depot.Version, error) {
	return s.UpdateStatusFn(ctx, id, target, audit)
}

func (s *MetaService) ActivateVersion(ctx context.Context, id string) error {
	return s.ActivateVersionFn(ctx, id)
}

// EntryService is a mock of depot.EntryService.
type EntryService struct {
	PutEntryFn   func(ctx context.Context, key depot.EntryKey, value []byte) error
	GetEntryFn   func(ctx context.Context, key depot.EntryKey) ([]byte, error)
	PutEntriesFn func(ctx context.Context, entries []depot.Entry) error
	GetEntriesFn func(ctx context.Context, keys []depot.EntryKey) (map[string][]byte, error)
}

func (s *EntryService) PutEntry(ctx context.Context, key depot.EntryKey, value []byte) error {
	return s.PutEntryFn(ctx, key, value)
}

func (s *EntryService) GetEntry(ctx context.Context, key depot.EntryKey) ([]byte, error) {
	return s.GetEntryFn(ctx, key)
}

func (s *EntryService) PutEntries(ctx context.Context, entries []depot.Entry) error {
	return s.PutEntriesFn(ctx, entries)
}

func (s *EntryService) GetEntries(ctx context.Context, keys []depot.EntryKey) (map[string][]byte, error) {
	return s.GetEntriesFn(ctx, keys)
}

// Queue is a mock of depot.Queue.
type Queue struct {
	SendFn        func(ctx context.Context, topic string, body depot.MessageBody) (string, error)
	SendWithIDFn  func(ctx context.Context, topic, id string, body depot.MessageBody) error
	ReserveNextFn func(ctx context.Context, topic, pid string) (*depot.Message, error)
	AcknowledgeFn func(ctx context.Context, id, pid string) error
	ExtendLeaseFn func(ctx context.Context, id, pid string) error
	ListFn        func(ctx context.Context, filter depot.MessageFilter) ([]*depot.Message, error)
}

func (q *Queue) Send(ctx context.Context, topic string, body depot.MessageBody) (string, error) {
	return q.SendFn(ctx, topic, body)
}

func (q *Queue) SendWithID(ctx context.Context, topic, id string, body depot.MessageBody) error {
	return q.SendWithIDFn(ctx, topic, id, body)
}

func (q *Queue) ReserveNext(ctx context.Context, topic, pid string) (*depot.Message, error) {
	return q.ReserveNextFn(ctx, topic, pid)
}

func (q *Queue) Acknowledge(ctx context.Context, id, pid string) error {
	return q.AcknowledgeFn(ctx, id, pid)
}

func (q *Queue) ExtendLease(ctx context.Context, id, pid string) error {
	return q.ExtendLeaseFn(ctx, id, pid)
}

func (q *Queue) List(ctx context.Context, filter depot.MessageFilter) ([]*depot.Message, error) {
	return q.ListFn(ctx, filter)
}

// IDGenerator is a mock of depot.IDGenerator returning a fixed sequence.
type IDGenerator struct {
	IDs  []string
	next int
}

func (g *IDGenerator) ID() string {
	if g.next >= len(g.IDs) {
		return "id-overflow"
	}
	id := g.IDs[g.next]
	g.next++
	return id
}
