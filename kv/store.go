package kv

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is the error returned when the key requested is not found.
	ErrKeyNotFound = errors.New("key not found")
	// ErrTxNotWritable is the error returned when a mutating operation is
	// called during a read-only transaction.
	ErrTxNotWritable = errors.New("transaction is not writable")
	// ErrBucketNotFound is the error returned when the bucket cannot be found.
	ErrBucketNotFound = errors.New("bucket not found")
)

// IsNotFound reports whether err is the key-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// Store is an interface for a generic key value store. It is modeled after
// the boltdb database struct.
type Store interface {
	// View opens up a transaction that will not write to any data. Implementing
	// interfaces should take care to ensure that all view transactions do not
	// mutate any data.
	View(ctx context.Context, fn func(Tx) error) error
	// Update opens up a transaction that will mutate data.
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx is a transaction in the store.
type Tx interface {
	// Bucket returns the bucket with the provided name. Writable transactions
	// create it on first use; read-only transactions fail with
	// ErrBucketNotFound when it does not exist.
	Bucket(b []byte) (Bucket, error)
	Context() context.Context
	WithContext(ctx context.Context)
}

// Bucket is the abstraction used to perform get/put/delete operations and
// ordered iteration in a key value store.
type Bucket interface {
	Get(key []byte) ([]byte, error)
	// Put should error if the transaction it was called in is not writable.
	Put(key, value []byte) error
	// Delete should error if the transaction it was called in is not writable.
	Delete(key []byte) error
	// Cursor returns a cursor positioned before the first key.
	Cursor() (Cursor, error)
}

// Cursor iterates a bucket in key order.
type Cursor interface {
	// Seek moves to the first key at or after prefix.
	Seek(prefix []byte) (k []byte, v []byte)
	First() (k []byte, v []byte)
	Next() (k []byte, v []byte)
}

// WalkPrefix visits every key with the given prefix in order. The walk stops
// when fn returns false or an error.
func WalkPrefix(b Bucket, prefix []byte, fn func(k, v []byte) (bool, error)) error {
	cur, err := b.Cursor()
	if err != nil {
		return err
	}
	for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		cont, err := fn(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
