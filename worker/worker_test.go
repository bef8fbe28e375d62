package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/inmem"
	"github.com/depotdb/depot/meta"
	"github.com/depotdb/depot/queue"
	"github.com/depotdb/depot/worker"
)

const topic = "depot.operations"

type fixture struct {
	meta    meta.MetaService
	queue   *queue.Queue
	clock   *clock.Mock
	handler *worker.Handlers
	worker  *worker.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mockClock := clock.NewMock()
	metaSvc := meta.NewService(meta.NewStore(inmem.NewKVStore()))
	q := queue.NewQueue(inmem.NewKVStore(), queue.WithClock(mockClock), queue.WithLeaseTime(time.Second))
	handlers := worker.NewHandlers(metaSvc, q, topic, nil)
	w := worker.New(q, topic, handlers.Table(), worker.WithPID("test-worker"))

	return &fixture{meta: metaSvc, queue: q, clock: mockClock, handler: handlers, worker: w}
}

func (f *fixture) createVersion(t *testing.T, dataset, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.meta.FindDataset(ctx, dataset); depot.ErrorCode(err) == depot.ENotFound {
		require.NoError(t, f.meta.CreateDataset(ctx, &depot.Dataset{Name: dataset, Tables: []string{"items"}}))
	}
	require.NoError(t, f.meta.CreateVersion(ctx, &depot.Version{ID: id, Dataset: dataset}))
}

func (f *fixture) send(t *testing.T, action depot.Action, versionID string) string {
	t.Helper()
	id, err := f.queue.Send(context.Background(), topic, depot.MessageBody{Action: action, VersionID: versionID})
	require.NoError(t, err)
	return id
}

func (f *fixture) setStatus(t *testing.T, id string, path ...depot.Status) {
	t.Helper()
	for _, target := range path {
		_, err := f.meta.UpdateStatus(context.Background(), id, target, nil)
		require.NoError(t, err)
	}
}

func (f *fixture) status(t *testing.T, id string) depot.Status {
	t.Helper()
	v, err := f.meta.FindVersion(context.Background(), id)
	require.NoError(t, err)
	return v.Status
}

func (f *fixture) ackedCount(t *testing.T) int {
	t.Helper()
	msgs, err := f.queue.List(context.Background(), depot.MessageFilter{
		Topic:  topic,
		Status: depot.MessageStatusAcknowledged,
	})
	require.NoError(t, err)
	return len(msgs)
}

func TestWorker_HandlePrepare(t *testing.T) {
	f := newFixture(t)
	f.createVersion(t, "recs", "v1")
	f.send(t, depot.ActionPrepare, "v1")

	require.NoError(t, f.worker.Tick(context.Background()))
	assert.Equal(t, depot.StatusAwaitingEntries, f.status(t, "v1"))
	assert.Equal(t, 1, f.ackedCount(t))
}

func TestWorker_HandleSave(t *testing.T) {
	f := newFixture(t)
	f.createVersion(t, "recs", "v1")
	f.setStatus(t, "v1", depot.StatusAwaitingEntries, depot.StatusSaving)
	f.send(t, depot.ActionSave, "v1")

	require.NoError(t, f.worker.Tick(context.Background()))
	assert.Equal(t, depot.StatusSaved, f.status(t, "v1"))
}

func TestWorker_HandlePublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createVersion(t, "recs", "v1")
	f.setStatus(t, "v1", depot.StatusAwaitingEntries, depot.StatusSaving, depot.StatusSaved, depot.StatusPublishing)
	f.send(t, depot.ActionPublish, "v1")

	require.NoError(t, f.worker.Tick(ctx))

	assert.Equal(t, depot.StatusPublished, f.status(t, "v1"))
	d, err := f.meta.FindDataset(ctx, "recs")
	require.NoError(t, err)
	assert.Equal(t, "v1", d.ActiveVersion)
}

func TestWorker_PublishDemotesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createVersion(t, "recs", "v1")
	f.setStatus(t, "v1", depot.StatusAwaitingEntries, depot.StatusSaving, depot.StatusSaved, depot.StatusPublishing)
	f.send(t, depot.ActionPublish, "v1")
	require.NoError(t, f.worker.Tick(ctx))

	f.createVersion(t, "recs", "v2")
	f.setStatus(t, "v2", depot.StatusAwaitingEntries, depot.StatusSaving, depot.StatusSaved, depot.StatusPublishing)
	f.send(t, depot.ActionPublish, "v2")
	require.NoError(t, f.worker.Tick(ctx))

	assert.Equal(t, depot.StatusSaved, f.status(t, "v1"))
	assert.Equal(t, depot.StatusPublished, f.status(t, "v2"))

	d, err := f.meta.FindDataset(ctx, "recs")
	require.NoError(t, err)
	assert.Equal(t, "v2", d.ActiveVersion)

	// Republishing the old version rolls the dataset back.
	f.setStatus(t, "v1", depot.StatusPublishing)
	f.send(t, depot.ActionPublish, "v1")
	require.NoError(t, f.worker.Tick(ctx))

	assert.Equal(t, depot.StatusPublished, f.status(t, "v1"))
	assert.Equal(t, depot.StatusSaved, f.status(t, "v2"))
	d, err = f.meta.FindDataset(ctx, "recs")
	require.NoError(t, err)
	assert.Equal(t, "v1", d.ActiveVersion)
}

func TestWorker_PublishRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createVersion(t, "recs", "v1")
	f.setStatus(t, "v1", depot.StatusAwaitingEntries, depot.StatusSaving, depot.StatusSaved, depot.StatusPublishing)

	extend := func(context.Context) error { return nil }
	body := depot.MessageBody{Action: depot.ActionPublish, VersionID: "v1"}

	require.NoError(t, f.handler.HandlePublish(ctx, body, extend))
	v, err := f.meta.FindVersion(ctx, "v1")
	require.NoError(t, err)
	logLen := len(v.OperationLog)

	// A redelivered publish must tolerate every already-completed step.
	require.NoError(t, f.handler.HandlePublish(ctx, body, extend))

	v, err = f.meta.FindVersion(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, depot.StatusPublished, v.Status)
	assert.Len(t, v.OperationLog, logLen)

	d, err := f.meta.FindDataset(ctx, "recs")
	require.NoError(t, err)
	assert.Equal(t, "v1", d.ActiveVersion)
}

func TestWorker_HandleDiscardAndFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createVersion(t, "recs", "v1")
	f.send(t, depot.ActionDiscard, "v1")
	require.NoError(t, f.worker.Tick(ctx))
	assert.Equal(t, depot.StatusDiscarded, f.status(t, "v1"))

	f.createVersion(t, "recs", "v2")
	f.send(t, depot.ActionFail, "v2")
	require.NoError(t, f.worker.Tick(ctx))
	assert.Equal(t, depot.StatusFailed, f.status(t, "v2"))
}

func TestWorker_HandleVerifyDataEnqueuesSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createVersion(t, "recs", "v1")
	f.setStatus(t, "v1", depot.StatusAwaitingEntries, depot.StatusSaving)
	f.send(t, depot.ActionVerifyData, "v1")

	// Verification acks its own message and enqueues the follow-up save.
	require.NoError(t, f.worker.Tick(ctx))
	assert.Equal(t, depot.StatusSaving, f.status(t, "v1"))

	require.NoError(t, f.worker.Tick(ctx))
	assert.Equal(t, depot.StatusSaved, f.status(t, "v1"))
}

func TestWorker_FailedHandlerLeavesMessageForRedelivery(t *testing.T) {
	mockClock := clock.NewMock()
	q := queue.NewQueue(inmem.NewKVStore(), queue.WithClock(mockClock), queue.WithLeaseTime(time.Second))
	ctx := context.Background()

	var attempts int
	handlers := map[depot.Action]worker.HandlerFunc{
		depot.ActionSave: func(ctx context.Context, body depot.MessageBody, extend worker.ExtendFunc) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient backend failure")
			}
			return nil
		},
	}

	_, err := q.Send(ctx, topic, depot.MessageBody{Action: depot.ActionSave, VersionID: "v1"})
	require.NoError(t, err)

	w := worker.New(q, topic, handlers, worker.WithPID("worker-a"))
	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, 1, attempts)

	// The message is still leased; nothing is reservable yet.
	_, err = q.ReserveNext(ctx, topic, "worker-b")
	assert.True(t, depot.IsNoMessage(err))

	// After the lease expires another worker retries the same message.
	mockClock.Add(2 * time.Second)
	w2 := worker.New(q, topic, handlers, worker.WithPID("worker-b"))
	require.NoError(t, w2.Tick(ctx))
	assert.Equal(t, 2, attempts)

	msgs, err := q.List(ctx, depot.MessageFilter{Topic: topic, Status: depot.MessageStatusAcknowledged})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.worker.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
