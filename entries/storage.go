// Package entries implements the entry store: opaque values keyed by
// (dataset, version, table, key) on top of a kv.Store. Writes are
// last-write-wins upserts; version isolation comes from the version part of
// the key.
package entries

import (
	"context"
	"fmt"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

var entryBucket = []byte("entriesv1")

const keySeparator = byte(0x00)

// encodeKey builds the composite storage key. Dataset, table and key are
// web-safe, so the zero byte never appears in them; the version part is only
// checked for being non-empty.
func encodeKey(k depot.EntryKey) []byte {
	buf := make([]byte, 0, len(k.Dataset)+len(k.Version)+len(k.Table)+len(k.Key)+3)
	buf = append(buf, k.Dataset...)
	buf = append(buf, keySeparator)
	buf = append(buf, k.Version...)
	buf = append(buf, keySeparator)
	buf = append(buf, k.Table...)
	buf = append(buf, keySeparator)
	buf = append(buf, k.Key...)
	return buf
}

// Store reads and writes entries through a kv.Store.
type Store struct {
	store kv.Store
	codec *Codec
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCodec enables the binary envelope for stored values.
func WithCodec(c *Codec) StoreOption {
	return func(s *Store) {
		s.codec = c
	}
}

// NewStore returns a Store writing through to s.
func NewStore(s kv.Store, opts ...StoreOption) *Store {
	st := &Store{store: s}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

var _ depot.EntryService = (*Store)(nil)

// PutEntry upserts a single value.
func (s *Store) PutEntry(ctx context.Context, key depot.EntryKey, value []byte) error {
	return s.PutEntries(ctx, []depot.Entry{{Key: key, Value: value}})
}

// GetEntry returns the value at key, or ENotFound.
func (s *Store) GetEntry(ctx context.Context, key depot.EntryKey) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.store.View(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(entryBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return errEntryNotFound(key)
			}
			return errInternal(err)
		}
		buf, err := b.Get(encodeKey(key))
		if kv.IsNotFound(err) {
			return errEntryNotFound(key)
		}
		if err != nil {
			return errInternal(err)
		}
		value = append([]byte(nil), buf...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decode(value)
}

// PutEntries upserts a batch. Empty batches and batches above MaxEntryBatch
// fail with EInvalid; every key is validated before any write happens.
func (s *Store) PutEntries(ctx context.Context, entries []depot.Entry) error {
	if len(entries) == 0 {
		return &depot.Error{Code: depot.EInvalid, Msg: "entry batch must not be empty"}
	}
	if len(entries) > depot.MaxEntryBatch {
		return &depot.Error{
			Code: depot.EInvalid,
			Msg:  fmt.Sprintf("entry batch of %d exceeds the maximum of %d", len(entries), depot.MaxEntryBatch),
		}
	}
	for _, e := range entries {
		if err := e.Key.Validate(); err != nil {
			return err
		}
	}

	return s.store.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(entryBucket)
		if err != nil {
			return errInternal(err)
		}
		for _, e := range entries {
			value, err := s.encode(e.Value)
			if err != nil {
				return err
			}
			if err := b.Put(encodeKey(e.Key), value); err != nil {
				return errInternal(err)
			}
		}
		return nil
	})
}

// GetEntries returns a map keyed by the entry key part, containing every
// requested key; misses carry a nil value so callers can report hit and miss
// counts.
func (s *Store) GetEntries(ctx context.Context, keys []depot.EntryKey) (map[string][]byte, error) {
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return nil, err
		}
	}

	out := make(map[string][]byte, len(keys))
	err := s.store.View(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket(entryBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				for _, k := range keys {
					out[k.Key] = nil
				}
				return nil
			}
			return errInternal(err)
		}
		for _, k := range keys {
			buf, err := b.Get(encodeKey(k))
			if kv.IsNotFound(err) {
				out[k.Key] = nil
				continue
			}
			if err != nil {
				return errInternal(err)
			}
			value, err := s.decode(append([]byte(nil), buf...))
			if err != nil {
				return err
			}
			out[k.Key] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) encode(value []byte) ([]byte, error) {
	if s.codec == nil {
		return value, nil
	}
	return s.codec.Encode(value)
}

func (s *Store) decode(value []byte) ([]byte, error) {
	if s.codec == nil {
		return value, nil
	}
	return s.codec.Decode(value)
}

func errEntryNotFound(k depot.EntryKey) error {
	return &depot.Error{
		Code: depot.ENotFound,
		Msg:  fmt.Sprintf("entry %s/%s/%s/%s not found", k.Dataset, k.Version, k.Table, k.Key),
	}
}

func errInternal(err error) error {
	if derr, ok := err.(*depot.Error); ok && derr.Code == depot.ETooManyRequests {
		return err
	}
	return &depot.Error{
		Code: depot.EInternal,
		Msg:  "unexpected error in entry store",
		Err:  err,
	}
}
