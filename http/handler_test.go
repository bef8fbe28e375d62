package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/coordinator"
	"github.com/depotdb/depot/entries"
	depothttp "github.com/depotdb/depot/http"
	"github.com/depotdb/depot/inmem"
	"github.com/depotdb/depot/meta"
	"github.com/depotdb/depot/queue"
	"github.com/depotdb/depot/worker"
)

const topic = "depot.operations"

// server wires a full in-memory stack behind an httptest server. The worker
// is driven manually through drain for deterministic tests.
type server struct {
	*httptest.Server

	worker *worker.Worker
	clock  *clock.Mock
}

func newServer(t *testing.T) *server {
	t.Helper()

	mockClock := clock.NewMock()
	metaSvc := meta.NewService(meta.NewStore(inmem.NewKVStore()))
	entrySvc := entries.NewStore(inmem.NewKVStore(), entries.WithCodec(entries.NewCodec()))
	q := queue.NewQueue(inmem.NewKVStore(), queue.WithClock(mockClock), queue.WithLeaseTime(time.Minute))

	coord := coordinator.New(metaSvc, entrySvc, q, topic,
		coordinator.WithDatasetCache(coordinator.NewDatasetCache(metaSvc, 10*time.Second, mockClock)),
	)
	handlers := worker.NewHandlers(metaSvc, q, topic, nil)
	w := worker.New(q, topic, handlers.Table(), worker.WithPID("test-worker"))

	h := depothttp.NewAPIHandler(&depothttp.APIBackend{
		Logger:             zap.NewNop(),
		Coordinator:        coord,
		PrometheusRegistry: prometheus.NewRegistry(),
	}, "/")

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &server{Server: ts, worker: w, clock: mockClock}
}

// drain lets the worker process everything currently queued.
func (s *server) drain(t *testing.T) {
	t.Helper()
	for {
		err := s.worker.Tick(context.Background())
		if depot.IsNoMessage(err) {
			return
		}
		require.NoError(t, err)
	}
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *nethttp.Response {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := nethttp.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *nethttp.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createDataset(t *testing.T, s *server, name string, tables ...string) {
	t.Helper()
	resp := s.do(t, "POST", "/v1/datasets", map[string]interface{}{
		"name":   name,
		"tables": tables,
	})
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
}

func createVersion(t *testing.T, s *server, dataset string) string {
	t.Helper()
	resp := s.do(t, "POST", "/v1/versions", map[string]string{"dataset": dataset})
	var v depot.Version
	decode(t, resp, &v)
	require.Equal(t, depot.StatusPreparing, v.Status)
	s.drain(t)
	return v.ID
}

func TestAPI_HappyPath(t *testing.T) {
	s := newServer(t)

	// Dataset and version come up.
	createDataset(t, s, "recs", "items")
	id := createVersion(t, s, "recs")

	resp := s.do(t, "GET", "/v1/versions/"+id, nil)
	var v depot.Version
	decode(t, resp, &v)
	assert.Equal(t, depot.StatusAwaitingEntries, v.Status)

	// Load one entry.
	resp = s.do(t, "POST", "/v1/datasets/recs?version-id="+id, []map[string]interface{}{
		{"table": "items", "key": "k1", "value": "v1val"},
	})
	resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	// Save, then publish.
	resp = s.do(t, "POST", "/v1/versions/"+id+"/save", nil)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	s.drain(t)

	resp = s.do(t, "POST", "/v1/versions/"+id+"/publish", nil)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	s.drain(t)

	// Reads without a version id resolve through the active version.
	resp = s.do(t, "GET", "/v1/datasets/recs/tables/items/entries/k1", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get("X-Active-Version-Id"))
	assert.Equal(t, id, resp.Header.Get("X-Version-Id"))
	var value string
	decode(t, resp, &value)
	assert.Equal(t, "v1val", value)
}

func TestAPI_RollbackRepublish(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")

	load := func(id, val string) {
		resp := s.do(t, "POST", "/v1/datasets/recs?version-id="+id, []map[string]interface{}{
			{"table": "items", "key": "k1", "value": val},
		})
		resp.Body.Close()
		require.Equal(t, nethttp.StatusOK, resp.StatusCode)
		resp = s.do(t, "POST", "/v1/versions/"+id+"/save", nil)
		resp.Body.Close()
		require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
		s.drain(t)
		resp = s.do(t, "POST", "/v1/versions/"+id+"/publish", nil)
		resp.Body.Close()
		require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
		s.drain(t)
	}

	v1 := createVersion(t, s, "recs")
	load(v1, "v1val")
	v2 := createVersion(t, s, "recs")
	load(v2, "v2val")

	// v2 serves; v1 still readable when pinned.
	s.clock.Add(11 * time.Second) // cache expires
	resp := s.do(t, "GET", "/v1/datasets/recs/tables/items/entries/k1", nil)
	var got string
	decode(t, resp, &got)
	assert.Equal(t, "v2val", got)

	resp = s.do(t, "GET", "/v1/datasets/recs/tables/items/entries/k1?version-id="+v1, nil)
	assert.Equal(t, v2, resp.Header.Get("X-Active-Version-Id"))
	assert.Equal(t, v1, resp.Header.Get("X-Version-Id"))
	decode(t, resp, &got)
	assert.Equal(t, "v1val", got)

	// Republish v1: the saved version is promoted again.
	resp = s.do(t, "POST", "/v1/versions/"+v1+"/publish", nil)
	resp.Body.Close()
	require.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	s.drain(t)

	s.clock.Add(11 * time.Second)
	resp = s.do(t, "GET", "/v1/datasets/recs/tables/items/entries/k1", nil)
	assert.Equal(t, v1, resp.Header.Get("X-Active-Version-Id"))
	decode(t, resp, &got)
	assert.Equal(t, "v1val", got)

	// v2 went back to saved.
	resp = s.do(t, "GET", "/v1/versions/"+v2, nil)
	var v depot.Version
	decode(t, resp, &v)
	assert.Equal(t, depot.StatusSaved, v.Status)
}

func TestAPI_CreateDatasetErrors(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")

	// Duplicates and invalid shapes are client errors on this endpoint.
	resp := s.do(t, "POST", "/v1/datasets", map[string]interface{}{
		"name":   "recs",
		"tables": []string{"items"},
	})
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])

	resp = s.do(t, "POST", "/v1/datasets", map[string]interface{}{
		"name":   "recs2",
		"tables": []string{},
	})
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, "POST", "/v1/datasets", map[string]interface{}{
		"name":   "recs3",
		"tables": []string{"items", "items"},
	})
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestAPI_LoadIntoWrongState(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")

	// Do not drain: the version stays in preparing.
	resp := s.do(t, "POST", "/v1/versions", map[string]string{"dataset": "recs"})
	var v depot.Version
	decode(t, resp, &v)

	resp = s.do(t, "POST", "/v1/datasets/recs?version-id="+v.ID, []map[string]interface{}{
		{"table": "items", "key": "k1", "value": 1},
	})
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, depot.KindInvalidVersionState, body["error"])
	assert.NotNil(t, body["version"])
}

func TestAPI_LoadUnknownTable(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")
	id := createVersion(t, s, "recs")

	resp := s.do(t, "POST", "/v1/datasets/recs?version-id="+id, []map[string]interface{}{
		{"table": "ghost", "key": "k", "value": "x"},
	})
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	var body struct {
		Error         string              `json:"error"`
		MissingTables []map[string]string `json:"missing-tables"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, depot.KindTablesNotFound, body.Error)
	assert.Equal(t, []map[string]string{{"dataset": "recs", "table": "ghost"}}, body.MissingTables)
}

func TestAPI_BatchRead(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")
	id := createVersion(t, s, "recs")

	resp := s.do(t, "POST", "/v1/datasets/recs/tables/items?version-id="+id, []map[string]interface{}{
		{"key": "k1", "value": map[string]int{"n": 1}},
		{"key": "k2", "value": "two"},
	})
	resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp = s.do(t, "GET", fmt.Sprintf("/v1/datasets/recs/tables/items/entries?version-id=%s", id),
		[]map[string]string{{"key": "k1"}, {"key": "k2"}, {"key": "nope"}})
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, id, resp.Header.Get("X-Version-Id"))

	var body struct {
		Status      string                     `json:"status"`
		KeysFound   int                        `json:"keys-found"`
		KeysMissing int                        `json:"keys-missing"`
		Data        map[string]json.RawMessage `json:"data"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.KeysFound)
	assert.Equal(t, 1, body.KeysMissing)
	assert.JSONEq(t, `{"n":1}`, string(body.Data["k1"]))
	assert.JSONEq(t, `"two"`, string(body.Data["k2"]))
	_, ok := body.Data["nope"]
	assert.False(t, ok)
}

func TestAPI_EntryNotFound(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")
	id := createVersion(t, s, "recs")

	resp := s.do(t, "GET", "/v1/datasets/recs/tables/items/entries/missing?version-id="+id, nil)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestAPI_UnknownPath(t *testing.T) {
	s := newServer(t)

	resp := s.do(t, "GET", "/v1/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
}

func TestAPI_Healthcheck(t *testing.T) {
	s := newServer(t)

	resp := s.do(t, "GET", "/healthcheck", nil)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_ListVersionsByDataset(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")
	createDataset(t, s, "other", "items")
	v1 := createVersion(t, s, "recs")
	_ = createVersion(t, s, "other")

	resp := s.do(t, "GET", "/v1/versions?dataset=recs", nil)
	var vs []depot.Version
	decode(t, resp, &vs)
	require.Len(t, vs, 1)
	assert.Equal(t, v1, vs[0].ID)
}

func TestAPI_DiscardVersion(t *testing.T) {
	s := newServer(t)
	createDataset(t, s, "recs", "items")
	id := createVersion(t, s, "recs")

	resp := s.do(t, "POST", "/v1/versions/"+id+"/discard", map[string]string{"reason": "bad data"})
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var v depot.Version
	decode(t, resp, &v)
	assert.Equal(t, depot.StatusDiscarded, v.Status)

	// Terminal: save is now refused.
	resp = s.do(t, "POST", "/v1/versions/"+id+"/save", nil)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}
