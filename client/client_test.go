package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/client"
	"github.com/depotdb/depot/coordinator"
	"github.com/depotdb/depot/entries"
	depothttp "github.com/depotdb/depot/http"
	"github.com/depotdb/depot/inmem"
	"github.com/depotdb/depot/meta"
	"github.com/depotdb/depot/queue"
	"github.com/depotdb/depot/worker"
)

const topic = "depot.operations"

type stack struct {
	server *httptest.Server
	worker *worker.Worker
}

func newStack(t *testing.T) *stack {
	t.Helper()

	metaSvc := meta.NewService(meta.NewStore(inmem.NewKVStore()))
	entrySvc := entries.NewStore(inmem.NewKVStore())
	q := queue.NewQueue(inmem.NewKVStore(), queue.WithClock(clock.NewMock()), queue.WithLeaseTime(time.Minute))

	coord := coordinator.New(metaSvc, entrySvc, q, topic)
	handlers := worker.NewHandlers(metaSvc, q, topic, nil)
	w := worker.New(q, topic, handlers.Table(), worker.WithPID("test-worker"))

	h := depothttp.NewAPIHandler(&depothttp.APIBackend{
		Logger:      zap.NewNop(),
		Coordinator: coord,
	}, "/")

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &stack{server: ts, worker: w}
}

func (s *stack) drain(t *testing.T) {
	t.Helper()
	for {
		err := s.worker.Tick(context.Background())
		if depot.IsNoMessage(err) {
			return
		}
		require.NoError(t, err)
	}
}

func TestClient_EndToEnd(t *testing.T) {
	s := newStack(t)
	c := client.New(s.server.URL)
	ctx := context.Background()

	d, err := c.CreateDataset(ctx, &depot.Dataset{Name: "recs", Tables: []string{"items"}})
	require.NoError(t, err)
	assert.Equal(t, "recs", d.Name)

	v, err := c.CreateVersion(ctx, "recs", "nightly")
	require.NoError(t, err)
	assert.Equal(t, depot.StatusPreparing, v.Status)
	s.drain(t)

	require.NoError(t, c.LoadEntries(ctx, "recs", v.ID, []client.Entry{
		{Table: "items", Key: "k1", Value: json.RawMessage(`"v1val"`)},
	}))

	_, err = c.SaveVersion(ctx, v.ID)
	require.NoError(t, err)
	s.drain(t)

	_, err = c.PublishVersion(ctx, v.ID)
	require.NoError(t, err)
	s.drain(t)

	got, err := c.GetEntry(ctx, "recs", "items", "k1", "")
	require.NoError(t, err)
	assert.JSONEq(t, `"v1val"`, string(got))

	final, err := c.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, depot.StatusPublished, final.Status)
}

func TestClient_ErrorsAreCoded(t *testing.T) {
	s := newStack(t)
	c := client.New(s.server.URL)
	ctx := context.Background()

	_, err := c.GetVersion(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, depot.ENotFound, depot.ErrorCode(err))

	_, err = c.CreateVersion(ctx, "ghost", "")
	require.Error(t, err)
	assert.Equal(t, depot.ENotFound, depot.ErrorCode(err))
}

func TestLoader_SplitsAndLoadsAllBatches(t *testing.T) {
	s := newStack(t)
	c := client.New(s.server.URL)
	ctx := context.Background()

	_, err := c.CreateDataset(ctx, &depot.Dataset{Name: "recs", Tables: []string{"items"}})
	require.NoError(t, err)
	v, err := c.CreateVersion(ctx, "recs", "")
	require.NoError(t, err)
	s.drain(t)

	const total = 2500
	all := make([]client.Entry, 0, total)
	for i := 0; i < total; i++ {
		all = append(all, client.Entry{
			Table: "items",
			Key:   fmt.Sprintf("k%04d", i),
			Value: json.RawMessage(fmt.Sprintf("%d", i)),
		})
	}

	l := client.NewLoader(c)
	l.BatchSize = 1000
	require.NoError(t, l.Load(ctx, "recs", v.ID, all))

	for _, i := range []int{0, 999, 1000, 2499} {
		got, err := c.GetEntry(ctx, "recs", "items", fmt.Sprintf("k%04d", i), v.ID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", i), string(got))
	}
}

func TestLoader_BacksOffOnRateLimit(t *testing.T) {
	// A server that rejects the first attempt with 429 and accepts the
	// retry.
	var calls int
	ts := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(nethttp.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":"error","message":"slow down"}`))
			return
		}
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ts.Close)

	c := client.New(ts.URL)
	l := client.NewLoader(c)
	l.Backoff = time.Millisecond

	err := l.Load(context.Background(), "recs", "v1", []client.Entry{
		{Table: "items", Key: "k", Value: json.RawMessage(`1`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
