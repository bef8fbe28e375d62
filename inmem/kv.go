// Package inmem provides the in-memory reference implementation of kv.Store,
// backed by an in-process btree per bucket. It is the default backend for
// tests and single-process deployments.
package inmem

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/depotdb/depot/kv"
)

// KVStore is an in memory btree backed kv.Store.
type KVStore struct {
	mu      sync.RWMutex
	buckets map[string]*btree.BTree
}

// NewKVStore creates an instance of a KVStore.
func NewKVStore() *KVStore {
	return &KVStore{
		buckets: map[string]*btree.BTree{},
	}
}

// View opens up a transaction with a read lock.
func (s *KVStore) View(ctx context.Context, fn func(kv.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{
		kv:       s,
		writable: false,
		ctx:      ctx,
	})
}

// Update opens up a transaction with a write lock.
func (s *KVStore) Update(ctx context.Context, fn func(kv.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{
		kv:       s,
		writable: true,
		ctx:      ctx,
	})
}

// tx is an in memory transaction. Writes apply immediately; isolation comes
// from the store-level lock held for the duration of the transaction.
type tx struct {
	kv       *KVStore
	writable bool
	ctx      context.Context
}

// Context returns the context for the transaction.
func (t *tx) Context() context.Context {
	return t.ctx
}

// WithContext sets the context for the transaction.
func (t *tx) WithContext(ctx context.Context) {
	t.ctx = ctx
}

// Bucket retrieves the bucket with the provided name, creating it on first
// use in a writable transaction.
func (t *tx) Bucket(b []byte) (kv.Bucket, error) {
	tree, ok := t.kv.buckets[string(b)]
	if !ok {
		if !t.writable {
			return nil, kv.ErrBucketNotFound
		}
		tree = btree.New(2)
		t.kv.buckets[string(b)] = tree
	}
	return &bucket{
		tree:     tree,
		writable: t.writable,
	}, nil
}

type item struct {
	key   []byte
	value []byte
}

// Less is used to implement btree.Item.
func (i *item) Less(b btree.Item) bool {
	j, ok := b.(*item)
	if !ok {
		return false
	}
	return bytes.Compare(i.key, j.key) < 0
}

type bucket struct {
	tree     *btree.BTree
	writable bool
}

// Get retrieves the value at the provided key.
func (b *bucket) Get(key []byte) ([]byte, error) {
	i := b.tree.Get(&item{key: key})
	if i == nil {
		return nil, kv.ErrKeyNotFound
	}
	j, ok := i.(*item)
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return j.value, nil
}

// Put sets the key to value, replacing any previous value.
func (b *bucket) Put(key, value []byte) error {
	if !b.writable {
		return kv.ErrTxNotWritable
	}
	b.tree.ReplaceOrInsert(&item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// Delete removes the key.
func (b *bucket) Delete(key []byte) error {
	if !b.writable {
		return kv.ErrTxNotWritable
	}
	b.tree.Delete(&item{key: key})
	return nil
}

// Cursor returns a cursor over a point-in-time snapshot of the bucket. The
// snapshot keeps iteration stable when the caller mutates the bucket while
// walking it.
func (b *bucket) Cursor() (kv.Cursor, error) {
	pairs := make([]item, 0, b.tree.Len())
	b.tree.Ascend(func(i btree.Item) bool {
		j := i.(*item)
		pairs = append(pairs, *j)
		return true
	})
	return &cursor{pairs: pairs, index: -1}, nil
}

type cursor struct {
	pairs []item
	index int
}

func (c *cursor) Seek(prefix []byte) ([]byte, []byte) {
	for i, p := range c.pairs {
		if bytes.Compare(p.key, prefix) >= 0 {
			c.index = i
			return p.key, p.value
		}
	}
	c.index = len(c.pairs)
	return nil, nil
}

func (c *cursor) First() ([]byte, []byte) {
	if len(c.pairs) == 0 {
		return nil, nil
	}
	c.index = 0
	return c.pairs[0].key, c.pairs[0].value
}

func (c *cursor) Next() ([]byte, []byte) {
	if c.index+1 >= len(c.pairs) {
		c.index = len(c.pairs)
		return nil, nil
	}
	c.index++
	return c.pairs[c.index].key, c.pairs[c.index].value
}
