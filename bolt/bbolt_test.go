package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/depotdb/depot/bolt"
	"github.com/depotdb/depot/kv"
)

// NewTestClient opens a bolt client over a temp file and returns it with its
// cleanup.
func NewTestClient(t *testing.T) (*bolt.Client, func()) {
	t.Helper()

	c := bolt.NewClient(filepath.Join(t.TempDir(), "depot.db"), zap.NewNop())
	require.NoError(t, c.Open(context.Background()))
	return c, func() {
		_ = c.Close()
	}
}

func TestClient_PutGet(t *testing.T) {
	c, closeFn := NewTestClient(t)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket([]byte("test"))
		require.NoError(t, err)
		return b.Put([]byte("k1"), []byte("v1"))
	}))

	err := c.View(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket([]byte("test"))
		require.NoError(t, err)
		v, err := b.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestClient_MissingBucketOnView(t *testing.T) {
	c, closeFn := NewTestClient(t)
	defer closeFn()

	err := c.View(context.Background(), func(tx kv.Tx) error {
		_, err := tx.Bucket([]byte("absent"))
		assert.Equal(t, kv.ErrBucketNotFound, err)
		return nil
	})
	require.NoError(t, err)
}

func TestClient_CursorOrder(t *testing.T) {
	c, closeFn := NewTestClient(t)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket([]byte("test"))
		require.NoError(t, err)
		for _, k := range []string{"c", "a", "b"} {
			if err := b.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []string
	err := c.View(ctx, func(tx kv.Tx) error {
		b, err := tx.Bucket([]byte("test"))
		require.NoError(t, err)
		return kv.WalkPrefix(b, nil, func(k, v []byte) (bool, error) {
			got = append(got, string(k))
			return true, nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
