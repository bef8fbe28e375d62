// Package bolt implements kv.Store on top of a bbolt database file. It is
// the durable document-store backend for the metadata store, the entry store
// and the queue.
package bolt

import (
	"context"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/depotdb/depot/kv"
)

// Client is a client for the boltDB data store.
type Client struct {
	Path string

	db  *bolt.DB
	log *zap.Logger
}

// NewClient returns an instance of a Client.
func NewClient(path string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Path: path,
		log:  log,
	}
}

// DB returns the clients DB.
func (c *Client) DB() *bolt.DB {
	return c.db
}

// Open opens or creates the boltDB file.
func (c *Client) Open(ctx context.Context) error {
	if _, err := os.Stat(c.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return err
	}

	db, err := bolt.Open(c.Path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return err
	}
	c.db = db

	c.log.Info("resources opened", zap.String("path", c.Path))
	return nil
}

// Close closes the connection to the bolt database.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// View opens up a read-only transaction against the database.
func (c *Client) View(ctx context.Context, fn func(kv.Tx) error) error {
	return c.db.View(func(btx *bolt.Tx) error {
		return fn(&tx{tx: btx, ctx: ctx})
	})
}

// Update opens up a writable transaction against the database.
func (c *Client) Update(ctx context.Context, fn func(kv.Tx) error) error {
	return c.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{tx: btx, ctx: ctx})
	})
}

// tx wraps an boltdb transaction to implement kv.Tx.
type tx struct {
	tx  *bolt.Tx
	ctx context.Context
}

func (t *tx) Context() context.Context {
	return t.ctx
}

func (t *tx) WithContext(ctx context.Context) {
	t.ctx = ctx
}

// Bucket retrieves the bucket with the provided name, creating it on first
// use in a writable transaction.
func (t *tx) Bucket(b []byte) (kv.Bucket, error) {
	if t.tx.Writable() {
		bkt, err := t.tx.CreateBucketIfNotExists(b)
		if err != nil {
			return nil, err
		}
		return &bucket{bucket: bkt}, nil
	}

	bkt := t.tx.Bucket(b)
	if bkt == nil {
		return nil, kv.ErrBucketNotFound
	}
	return &bucket{bucket: bkt}, nil
}

// bucket wraps a boltdb bucket to implement kv.Bucket.
type bucket struct {
	bucket *bolt.Bucket
}

func (b *bucket) Get(key []byte) ([]byte, error) {
	v := b.bucket.Get(key)
	if v == nil {
		return nil, kv.ErrKeyNotFound
	}
	return v, nil
}

func (b *bucket) Put(key, value []byte) error {
	if !b.bucket.Writable() {
		return kv.ErrTxNotWritable
	}
	return b.bucket.Put(key, value)
}

func (b *bucket) Delete(key []byte) error {
	if !b.bucket.Writable() {
		return kv.ErrTxNotWritable
	}
	return b.bucket.Delete(key)
}

func (b *bucket) Cursor() (kv.Cursor, error) {
	return &cursor{cursor: b.bucket.Cursor()}, nil
}

// cursor wraps a boltdb cursor to implement kv.Cursor.
type cursor struct {
	cursor *bolt.Cursor
}

func (c *cursor) Seek(prefix []byte) ([]byte, []byte) {
	return c.cursor.Seek(prefix)
}

func (c *cursor) First() ([]byte, []byte) {
	return c.cursor.First()
}

func (c *cursor) Next() ([]byte, []byte) {
	return c.cursor.Next()
}
