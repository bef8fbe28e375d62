package queue

import (
	"context"
	"sort"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

// List returns messages matching the filter, earliest first. Topic is
// mandatory. The reserved and expired statuses are both backed by the
// reserved index flag and split on lease liveness at read time.
func (q *Queue) List(ctx context.Context, filter depot.MessageFilter) ([]*depot.Message, error) {
	if filter.Topic == "" {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "list filter requires a topic"}
	}

	status := filter.Status
	if status == "" {
		status = depot.MessageStatusAll
	}

	var flags []byte
	switch status {
	case depot.MessageStatusAll:
		flags = []byte{statusNew, statusReserved, statusAcknowledged}
	case depot.MessageStatusNew:
		flags = []byte{statusNew}
	case depot.MessageStatusReserved, depot.MessageStatusExpired:
		flags = []byte{statusReserved}
	case depot.MessageStatusAcknowledged:
		flags = []byte{statusAcknowledged}
	default:
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "unrecognized message status " + string(status)}
	}

	now := q.clock.Now()
	out := []*depot.Message{}

	err := q.store.View(ctx, func(tx kv.Tx) error {
		idx, err := tx.Bucket(statusBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return nil
			}
			return errInternal(err)
		}
		msgs, err := tx.Bucket(messageBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return nil
			}
			return errInternal(err)
		}

		for _, flag := range flags {
			err := kv.WalkPrefix(idx, statusPrefix(filter.Topic, flag), func(k, v []byte) (bool, error) {
				buf, err := msgs.Get(v)
				if kv.IsNotFound(err) {
					return true, nil
				}
				if err != nil {
					return false, errInternal(err)
				}
				_, m, err := unmarshalMessage(buf)
				if err != nil {
					return false, err
				}

				switch status {
				case depot.MessageStatusReserved:
					if !now.Before(m.LeaseDeadline) {
						return true, nil
					}
				case depot.MessageStatusExpired:
					if now.Before(m.LeaseDeadline) {
						return true, nil
					}
				}
				if filter.PID != nil && m.PID != *filter.PID {
					return true, nil
				}

				out = append(out, m)
				return true, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
