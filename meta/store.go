// Package meta implements the metadata store: datasets, versions, the
// version lifecycle state machine, and the optimistic-concurrency discipline
// that keeps status transitions linearizable.
package meta

import (
	"encoding/json"
	"time"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

var (
	datasetBucket     = []byte("datasetsv1")
	versionBucket     = []byte("versionsv1")
	versionDatasetIdx = []byte("versionsbydatasetv1")
)

const indexKeySeparator = byte(0x00)

// Store persists datasets and versions in a kv.Store. Every record is
// wrapped in an envelope carrying a monotonically increasing change counter;
// mutations read the counter in one transaction and write conditionally on
// it in another, surfacing EConflict to the losing racer.
type Store struct {
	store kv.Store
	now   func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a Store writing through to s.
func NewStore(s kv.Store, opts ...StoreOption) *Store {
	st := &Store{store: s, now: time.Now}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// envelope wraps a stored record with its change counter.
type envelope struct {
	Ver    uint64          `json:"__ver"`
	Record json.RawMessage `json:"record"`
}

func marshalEnvelope(ver uint64, record interface{}) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, &depot.Error{Code: depot.EInternal, Err: err}
	}
	buf, err := json.Marshal(envelope{Ver: ver, Record: raw})
	if err != nil {
		return nil, &depot.Error{Code: depot.EInternal, Err: err}
	}
	return buf, nil
}

func unmarshalEnvelope(buf []byte, record interface{}) (uint64, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return 0, &depot.Error{Code: depot.EInternal, Err: err}
	}
	if err := json.Unmarshal(env.Record, record); err != nil {
		return 0, &depot.Error{Code: depot.EInternal, Err: err}
	}
	return env.Ver, nil
}

func versionDatasetIndexKey(dataset, id string) []byte {
	k := make([]byte, 0, len(dataset)+1+len(id))
	k = append(k, dataset...)
	k = append(k, indexKeySeparator)
	k = append(k, id...)
	return k
}
