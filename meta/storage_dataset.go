package meta

import (
	"context"
	"sort"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

// CreateDataset persists a new dataset. The name is the identifier; a
// duplicate name fails with EConflict. A created record is appended to the
// operation log.
func (s *Store) CreateDataset(ctx context.Context, d *depot.Dataset) error {
	d.OperationLog = append(d.OperationLog, depot.OperationRecord{
		Action:    "created",
		Timestamp: s.now().UTC(),
	})

	return s.store.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(datasetBucket)
		if err != nil {
			return ErrInternal(err)
		}

		if _, err := b.Get([]byte(d.Name)); err == nil {
			return ErrDatasetAlreadyExists(d.Name)
		} else if !kv.IsNotFound(err) {
			return ErrInternal(err)
		}

		buf, err := marshalEnvelope(1, d)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(d.Name), buf); err != nil {
			return ErrInternal(err)
		}
		return nil
	})
}

// FindDataset returns the dataset with the given name, or ENotFound.
func (s *Store) FindDataset(ctx context.Context, name string) (*depot.Dataset, error) {
	var d depot.Dataset
	err := s.store.View(ctx, func(tx kv.Tx) error {
		_, err := s.findDatasetTx(tx, name, &d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// findDatasetTx reads a dataset and its change counter inside tx.
func (s *Store) findDatasetTx(tx kv.Tx, name string, d *depot.Dataset) (uint64, error) {
	b, err := tx.Bucket(datasetBucket)
	if err != nil {
		if err == kv.ErrBucketNotFound {
			return 0, ErrDatasetNotFound(name)
		}
		return 0, ErrInternal(err)
	}

	buf, err := b.Get([]byte(name))
	if kv.IsNotFound(err) {
		return 0, ErrDatasetNotFound(name)
	}
	if err != nil {
		return 0, ErrInternal(err)
	}
	return unmarshalEnvelope(buf, d)
}

// ListDatasets returns every dataset ordered by name.
func (s *Store) ListDatasets(ctx context.Context) ([]*depot.Dataset, error) {
	ds := []*depot.Dataset{}
	err := s.store.View(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(datasetBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return nil
			}
			return ErrInternal(err)
		}
		return kv.WalkPrefix(b, nil, func(k, v []byte) (bool, error) {
			var d depot.Dataset
			if _, err := unmarshalEnvelope(v, &d); err != nil {
				return false, err
			}
			ds = append(ds, &d)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
	return ds, nil
}

// ActivateVersion points the owning dataset's active-version at the given
// version. The version must currently be published. The write is conditional
// on the dataset's change counter observed during the read phase; a
// concurrent writer surfaces as EConflict.
func (s *Store) ActivateVersion(ctx context.Context, id string) error {
	var (
		v          depot.Version
		d          depot.Dataset
		datasetVer uint64
	)

	err := s.store.View(ctx, func(tx kv.Tx) error {
		if _, err := s.findVersionTx(tx, id, &v); err != nil {
			return err
		}
		var err error
		datasetVer, err = s.findDatasetTx(tx, v.Dataset, &d)
		return err
	})
	if err != nil {
		return err
	}

	if v.Status != depot.StatusPublished {
		return &depot.Error{
			Code: depot.EInvalid,
			Msg:  "only a published version can be activated",
			Data: map[string]interface{}{
				"error":   depot.KindInvalidVersionState,
				"version": v,
			},
		}
	}

	// Re-activating the active version is a no-op.
	if d.ActiveVersion == id {
		return nil
	}

	return s.store.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(datasetBucket)
		if err != nil {
			return ErrInternal(err)
		}

		buf, err := b.Get([]byte(v.Dataset))
		if kv.IsNotFound(err) {
			return ErrDatasetNotFound(v.Dataset)
		}
		if err != nil {
			return ErrInternal(err)
		}

		var cur depot.Dataset
		ver, err := unmarshalEnvelope(buf, &cur)
		if err != nil {
			return err
		}
		if ver != datasetVer {
			return ErrConcurrentModification(v.Dataset)
		}

		cur.ActiveVersion = id
		cur.OperationLog = append(cur.OperationLog, depot.OperationRecord{
			Action:    "activate-version",
			Timestamp: s.now().UTC(),
			Detail:    map[string]string{"version-id": id},
		})

		out, err := marshalEnvelope(ver+1, &cur)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(cur.Name), out); err != nil {
			return ErrInternal(err)
		}
		return nil
	})
}
