package meta

import (
	"context"
	"sort"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

// CreateVersion persists a new version. The owning dataset must exist. A
// created record is appended to the operation log.
func (s *Store) CreateVersion(ctx context.Context, v *depot.Version) error {
	v.OperationLog = append(v.OperationLog, depot.OperationRecord{
		Action:    "created",
		Timestamp: s.now().UTC(),
	})

	return s.store.Update(ctx, func(tx kv.Tx) error {
		var d depot.Dataset
		if _, err := s.findDatasetTx(tx, v.Dataset, &d); err != nil {
			return err
		}

		b, err := tx.Bucket(versionBucket)
		if err != nil {
			return ErrInternal(err)
		}

		buf, err := marshalEnvelope(1, v)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(v.ID), buf); err != nil {
			return ErrInternal(err)
		}

		idx, err := tx.Bucket(versionDatasetIdx)
		if err != nil {
			return ErrInternal(err)
		}
		if err := idx.Put(versionDatasetIndexKey(v.Dataset, v.ID), []byte(v.ID)); err != nil {
			return ErrInternal(err)
		}
		return nil
	})
}

// FindVersion returns the version with the given id, or ENotFound.
func (s *Store) FindVersion(ctx context.Context, id string) (*depot.Version, error) {
	var v depot.Version
	err := s.store.View(ctx, func(tx kv.Tx) error {
		_, err := s.findVersionTx(tx, id, &v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// findVersionTx reads a version and its change counter inside tx.
func (s *Store) findVersionTx(tx kv.Tx, id string, v *depot.Version) (uint64, error) {
	b, err := tx.Bucket(versionBucket)
	if err != nil {
		if err == kv.ErrBucketNotFound {
			return 0, ErrVersionNotFound(id)
		}
		return 0, ErrInternal(err)
	}

	buf, err := b.Get([]byte(id))
	if kv.IsNotFound(err) {
		return 0, ErrVersionNotFound(id)
	}
	if err != nil {
		return 0, ErrInternal(err)
	}
	return unmarshalEnvelope(buf, v)
}

// ListVersions returns versions matching the filter, ordered by id.
func (s *Store) ListVersions(ctx context.Context, filter depot.VersionFilter) ([]*depot.Version, error) {
	vs := []*depot.Version{}
	err := s.store.View(ctx, func(tx kv.Tx) error {
		if filter.Dataset != nil {
			idx, err := tx.Bucket(versionDatasetIdx)
			if err != nil {
				if err == kv.ErrBucketNotFound {
					return nil
				}
				return ErrInternal(err)
			}
			prefix := versionDatasetIndexKey(*filter.Dataset, "")
			return kv.WalkPrefix(idx, prefix, func(k, idv []byte) (bool, error) {
				var v depot.Version
				if _, err := s.findVersionTx(tx, string(idv), &v); err != nil {
					return false, err
				}
				vs = append(vs, &v)
				return true, nil
			})
		}

		b, err := tx.Bucket(versionBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return nil
			}
			return ErrInternal(err)
		}
		return kv.WalkPrefix(b, nil, func(k, v []byte) (bool, error) {
			var ver depot.Version
			if _, err := unmarshalEnvelope(v, &ver); err != nil {
				return false, err
			}
			vs = append(vs, &ver)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	return vs, nil
}

// UpdateStatus moves a version along the lifecycle graph. The read phase
// records the change counter and checks the transition; the write phase is
// conditional on the counter, so a concurrent transition surfaces as
// EConflict. Setting the status a version already has is an idempotent
// no-op, which keeps redelivered queue messages safe.
func (s *Store) UpdateStatus(ctx context.Context, id string, target depot.Status, audit map[string]string) (*depot.Version, error) {
	if !target.Valid() {
		return nil, &depot.Error{
			Code: depot.EInvalid,
			Msg:  "unrecognized target status " + string(target),
		}
	}

	var (
		v   depot.Version
		ver uint64
	)
	err := s.store.View(ctx, func(tx kv.Tx) error {
		var err error
		ver, err = s.findVersionTx(tx, id, &v)
		return err
	})
	if err != nil {
		return nil, err
	}

	if v.Status == target {
		return &v, nil
	}
	if !v.Status.CanTransitionTo(target) {
		return nil, depot.ErrInvalidTransition(id, v.Status, target)
	}

	var out depot.Version
	err = s.store.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(versionBucket)
		if err != nil {
			return ErrInternal(err)
		}

		buf, err := b.Get([]byte(id))
		if kv.IsNotFound(err) {
			return ErrVersionNotFound(id)
		}
		if err != nil {
			return ErrInternal(err)
		}

		var cur depot.Version
		curVer, err := unmarshalEnvelope(buf, &cur)
		if err != nil {
			return err
		}
		if curVer != ver {
			return ErrConcurrentModification(id)
		}

		detail := map[string]string{"status": string(target)}
		for k, val := range audit {
			detail[k] = val
		}
		cur.Status = target
		cur.OperationLog = append(cur.OperationLog, depot.OperationRecord{
			Action:    "update-status",
			Timestamp: s.now().UTC(),
			Detail:    detail,
		})

		enc, err := marshalEnvelope(curVer+1, &cur)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), enc); err != nil {
			return ErrInternal(err)
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
