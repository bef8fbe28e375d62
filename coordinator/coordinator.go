// Package coordinator implements the synchronous API-facing service: it
// validates client operations against the metadata store, writes entries,
// transitions version state, and enqueues background actions for the async
// workers.
package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/meta"
)

// Coordinator orchestrates the metadata store, the entry store and the
// queue. It owns no state beyond a small read-through dataset cache used for
// active-version resolution.
type Coordinator struct {
	meta    meta.MetaService
	entries depot.EntryService
	queue   depot.Queue

	topic string
	idgen depot.IDGenerator
	cache *DatasetCache
	log   *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithIDGenerator overrides the version id generator.
func WithIDGenerator(g depot.IDGenerator) Option {
	return func(c *Coordinator) {
		c.idgen = g
	}
}

// WithDatasetCache overrides the dataset cache, primarily for tests.
func WithDatasetCache(cache *DatasetCache) Option {
	return func(c *Coordinator) {
		c.cache = cache
	}
}

// New returns a Coordinator enqueueing actions on topic.
func New(ms meta.MetaService, es depot.EntryService, q depot.Queue, topic string, opts ...Option) *Coordinator {
	c := &Coordinator{
		meta:    ms,
		entries: es,
		queue:   q,
		topic:   topic,
		idgen:   depot.NewIDGenerator(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = newDatasetCache(ms, defaultCacheTTL, nil)
	}
	return c
}

// CreateDataset validates and persists a dataset. The name is the
// identifier; no id is generated.
func (c *Coordinator) CreateDataset(ctx context.Context, d *depot.Dataset) (*depot.Dataset, error) {
	if err := c.meta.CreateDataset(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// FindDataset returns the named dataset.
func (c *Coordinator) FindDataset(ctx context.Context, name string) (*depot.Dataset, error) {
	return c.meta.FindDataset(ctx, name)
}

// ListDatasets returns every dataset.
func (c *Coordinator) ListDatasets(ctx context.Context) ([]*depot.Dataset, error) {
	return c.meta.ListDatasets(ctx)
}

// CreateVersion creates a fresh version of the dataset in the preparing
// state and enqueues the prepare action. The caller observes preparing and
// polls; there is no dependency on worker completion.
func (c *Coordinator) CreateVersion(ctx context.Context, dataset, label string, verificationPolicy map[string]interface{}) (*depot.Version, error) {
	v := &depot.Version{
		ID:                 c.idgen.ID(),
		Label:              label,
		Dataset:            dataset,
		Status:             depot.StatusPreparing,
		VerificationPolicy: verificationPolicy,
	}
	if err := c.meta.CreateVersion(ctx, v); err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, depot.ActionPrepare, v.ID, ""); err != nil {
		return nil, err
	}
	return v, nil
}

// FindVersion returns the version with the given id.
func (c *Coordinator) FindVersion(ctx context.Context, id string) (*depot.Version, error) {
	return c.meta.FindVersion(ctx, id)
}

// ListVersions returns versions matching the filter.
func (c *Coordinator) ListVersions(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error) {
	return c.meta.ListVersions(ctx, filter)
}

// SaveVersion transitions the version to saving and enqueues the save
// action. A compare-and-set loss surfaces as EConflict and is not retried
// here; the caller may.
func (c *Coordinator) SaveVersion(ctx context.Context, id string) (*depot.Version, error) {
	return c.transitionAndEnqueue(ctx, id, depot.StatusSaving, depot.ActionSave, "")
}

// PublishVersion transitions the version to publishing and enqueues the
// publish action.
func (c *Coordinator) PublishVersion(ctx context.Context, id string) (*depot.Version, error) {
	return c.transitionAndEnqueue(ctx, id, depot.StatusPublishing, depot.ActionPublish, "")
}

// DiscardVersion transitions the version to its terminal discarded state.
// Discard enqueues nothing.
func (c *Coordinator) DiscardVersion(ctx context.Context, id, reason string) (*depot.Version, error) {
	v, err := c.meta.FindVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Status.CanTransitionTo(depot.StatusDiscarded) {
		return nil, errVersionState(v, depot.StatusDiscarded)
	}

	audit := map[string]string{"initiated-by": "api"}
	if reason != "" {
		audit["reason"] = reason
	}
	return c.meta.UpdateStatus(ctx, id, depot.StatusDiscarded, audit)
}

func (c *Coordinator) transitionAndEnqueue(ctx context.Context, id string, target depot.Status, action depot.Action, reason string) (*depot.Version, error) {
	v, err := c.meta.FindVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Status.CanTransitionTo(target) {
		return nil, errVersionState(v, target)
	}

	updated, err := c.meta.UpdateStatus(ctx, id, target, map[string]string{"initiated-by": "api"})
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, action, id, reason); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Coordinator) enqueue(ctx context.Context, action depot.Action, versionID, reason string) error {
	_, err := c.queue.Send(ctx, c.topic, depot.MessageBody{
		Action:    action,
		VersionID: versionID,
		Reason:    reason,
	})
	if err != nil {
		return &depot.Error{
			Code: depot.EInternal,
			Msg:  fmt.Sprintf("failed to enqueue %s for version %s", action, versionID),
			Err:  err,
		}
	}
	return nil
}

func errVersionState(v *depot.Version, target depot.Status) error {
	return &depot.Error{
		Code: depot.EInvalid,
		Msg:  fmt.Sprintf("version %s in state %s cannot move to %s", v.ID, v.Status, target),
		Data: map[string]interface{}{
			"error":   depot.KindInvalidVersionState,
			"version": v,
		},
	}
}
