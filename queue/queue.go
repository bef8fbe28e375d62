// Package queue implements the durable at-least-once action queue on top of
// a kv.Store: leased reservations, idempotent sends, and a status-prefixed
// secondary index that makes "find next reservable" a range scan.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/depotdb/depot"
	"github.com/depotdb/depot/kv"
)

var (
	messageBucket = []byte("queuemessagesv1")
	statusBucket  = []byte("queuestatusv1")
)

const (
	keySeparator = byte(0x00)

	statusNew          = byte('N')
	statusReserved     = byte('R')
	statusAcknowledged = byte('A')

	// candidateWindow bounds how many of the earliest not-acknowledged
	// messages reservation considers. A later message can be handed out
	// before an earlier one when the whole window is covered by live leases,
	// so ordering is FIFO-ish rather than strict.
	candidateWindow = 10
)

// DefaultLeaseTime is how long a reservation holds the message when the
// configuration does not say otherwise.
const DefaultLeaseTime = 60 * time.Second

// Queue is a kv-backed depot.Queue. Reservation claims a message by
// compare-and-set on its change counter and retries the candidate scan from
// scratch on collision.
type Queue struct {
	store kv.Store

	leaseTime time.Duration
	clock     clock.Clock
	idgen     depot.IDGenerator
}

// Option configures a Queue.
type Option func(*Queue)

// WithLeaseTime overrides the reservation lease duration.
func WithLeaseTime(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.leaseTime = d
		}
	}
}

// WithClock overrides the clock, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithIDGenerator overrides the message id generator.
func WithIDGenerator(g depot.IDGenerator) Option {
	return func(q *Queue) {
		q.idgen = g
	}
}

// NewQueue returns a Queue writing through to s.
func NewQueue(s kv.Store, opts ...Option) *Queue {
	q := &Queue{
		store:     s,
		leaseTime: DefaultLeaseTime,
		clock:     clock.New(),
		idgen:     depot.NewIDGenerator(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ depot.Queue = (*Queue)(nil)

// envelope wraps a stored message with its change counter.
type envelope struct {
	Ver     uint64        `json:"__ver"`
	Message depot.Message `json:"message"`
}

func marshalMessage(ver uint64, m *depot.Message) ([]byte, error) {
	buf, err := json.Marshal(envelope{Ver: ver, Message: *m})
	if err != nil {
		return nil, &depot.Error{Code: depot.EInternal, Err: err}
	}
	return buf, nil
}

func unmarshalMessage(buf []byte) (uint64, *depot.Message, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return 0, nil, &depot.Error{Code: depot.EInternal, Err: err}
	}
	return env.Ver, &env.Message, nil
}

// statusKey builds the secondary index key:
// topic 0x00 flag 0x00 zero-padded-nanos 0x00 id. The zero-padded timestamp
// keeps the scan order equal to arrival order within one topic and flag.
func statusKey(topic string, flag byte, ts time.Time, id string) []byte {
	padded := fmt.Sprintf("%020d", ts.UnixNano())
	k := make([]byte, 0, len(topic)+len(padded)+len(id)+4)
	k = append(k, topic...)
	k = append(k, keySeparator)
	k = append(k, flag)
	k = append(k, keySeparator)
	k = append(k, padded...)
	k = append(k, keySeparator)
	k = append(k, id...)
	return k
}

func statusPrefix(topic string, flag byte) []byte {
	k := make([]byte, 0, len(topic)+3)
	k = append(k, topic...)
	k = append(k, keySeparator)
	k = append(k, flag)
	k = append(k, keySeparator)
	return k
}

// messageFlag returns the persisted index flag of m.
func messageFlag(m *depot.Message) byte {
	switch {
	case m.Ack:
		return statusAcknowledged
	case m.PID != "":
		return statusReserved
	default:
		return statusNew
	}
}

// Send enqueues body on topic under a generated id.
func (q *Queue) Send(ctx context.Context, topic string, body depot.MessageBody) (string, error) {
	id := q.idgen.ID()
	if err := q.SendWithID(ctx, topic, id, body); err != nil {
		return "", err
	}
	return id, nil
}

// SendWithID enqueues body on topic under the caller-supplied id. Resending
// an id that already exists is a no-op, which makes producers idempotent.
func (q *Queue) SendWithID(ctx context.Context, topic, id string, body depot.MessageBody) error {
	if topic == "" {
		return &depot.Error{Code: depot.EInvalid, Msg: "topic must not be empty"}
	}
	if id == "" {
		return &depot.Error{Code: depot.EInvalid, Msg: "message id must not be empty"}
	}
	if !body.Action.Valid() {
		return &depot.Error{Code: depot.EInvalid, Msg: fmt.Sprintf("unrecognized action %q", body.Action)}
	}

	return q.store.Update(ctx, func(tx kv.Tx) error {
		msgs, err := tx.Bucket(messageBucket)
		if err != nil {
			return errInternal(err)
		}
		if _, err := msgs.Get([]byte(id)); err == nil {
			return nil
		} else if !kv.IsNotFound(err) {
			return errInternal(err)
		}

		m := depot.Message{
			ID:        id,
			Topic:     topic,
			Timestamp: q.clock.Now().UTC(),
			Body:      body,
		}
		buf, err := marshalMessage(1, &m)
		if err != nil {
			return err
		}
		if err := msgs.Put([]byte(id), buf); err != nil {
			return errInternal(err)
		}

		idx, err := tx.Bucket(statusBucket)
		if err != nil {
			return errInternal(err)
		}
		if err := idx.Put(statusKey(topic, statusNew, m.Timestamp, id), []byte(id)); err != nil {
			return errInternal(err)
		}
		return nil
	})
}

// candidate is one not-acknowledged message observed during the scan phase.
type candidate struct {
	id       string
	ver      uint64
	ts       time.Time
	pid      string
	deadline time.Time
}

// ReserveNext leases the next reservable message on topic to pid. Selection
// merges the earliest new and reserved messages, takes the first
// candidateWindow of them by timestamp, and claims the earliest whose lease
// is not live. A compare-and-set collision restarts the selection.
func (q *Queue) ReserveNext(ctx context.Context, topic, pid string) (*depot.Message, error) {
	if topic == "" {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "topic must not be empty"}
	}
	if pid == "" {
		return nil, &depot.Error{Code: depot.EInvalid, Msg: "pid must not be empty"}
	}

	for {
		cand, err := q.nextCandidate(ctx, topic)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			return nil, depot.ErrNoMessage(topic)
		}

		m, claimed, err := q.claim(ctx, cand, pid)
		if err != nil {
			return nil, err
		}
		if claimed {
			return m, nil
		}
		// Lost the race for this candidate; rescan.
	}
}

// nextCandidate scans the first candidateWindow not-acknowledged messages by
// timestamp and returns the earliest reservable one, or nil.
func (q *Queue) nextCandidate(ctx context.Context, topic string) (*candidate, error) {
	now := q.clock.Now()
	var found *candidate

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

		// Take up to a window of the earliest entries from each scannable
		// flag; the merged set is re-sorted below before the window applies.
		ids := make([]string, 0, 2*candidateWindow)
		for _, flag := range []byte{statusNew, statusReserved} {
			taken := 0
			err := kv.WalkPrefix(idx, statusPrefix(topic, flag), func(k, v []byte) (bool, error) {
				ids = append(ids, string(v))
				taken++
				return taken < candidateWindow, nil
			})
			if err != nil {
				return err
			}
		}

		cands := make([]candidate, 0, len(ids))
		for _, id := range ids {
			buf, err := msgs.Get([]byte(id))
			if kv.IsNotFound(err) {
				continue
			}
			if err != nil {
				return errInternal(err)
			}
			ver, m, err := unmarshalMessage(buf)
			if err != nil {
				return err
			}
			if m.Ack {
				continue
			}
			cands = append(cands, candidate{
				id:       m.ID,
				ver:      ver,
				ts:       m.Timestamp,
				pid:      m.PID,
				deadline: m.LeaseDeadline,
			})
		}

		// Order the merged set by arrival and only look at the window.
		sortCandidates(cands)
		if len(cands) > candidateWindow {
			cands = cands[:candidateWindow]
		}

		for i, c := range cands {
			if c.pid != "" && now.Before(c.deadline) {
				continue
			}
			found = &cands[i]
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// claim conditionally reserves the candidate for pid. The write checks the
// change counter observed during the scan; a mismatch means another worker
// interfered, and the caller rescans.
func (q *Queue) claim(ctx context.Context, cand *candidate, pid string) (*depot.Message, bool, error) {
	var (
		out     *depot.Message
		claimed bool
	)
	err := q.store.Update(ctx, func(tx kv.Tx) error {
		msgs, err := tx.Bucket(messageBucket)
		if err != nil {
			return errInternal(err)
		}

		buf, err := msgs.Get([]byte(cand.id))
		if kv.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return errInternal(err)
		}
		ver, m, err := unmarshalMessage(buf)
		if err != nil {
			return err
		}
		if ver != cand.ver {
			return nil
		}

		oldFlag := messageFlag(m)
		m.PID = pid
		m.LeaseDeadline = q.clock.Now().Add(q.leaseTime).UTC()

		enc, err := marshalMessage(ver+1, m)
		if err != nil {
			return err
		}
		if err := msgs.Put([]byte(m.ID), enc); err != nil {
			return errInternal(err)
		}

		idx, err := tx.Bucket(statusBucket)
		if err != nil {
			return errInternal(err)
		}
		if oldFlag != statusReserved {
			if err := idx.Delete(statusKey(m.Topic, oldFlag, m.Timestamp, m.ID)); err != nil {
				return errInternal(err)
			}
			if err := idx.Put(statusKey(m.Topic, statusReserved, m.Timestamp, m.ID), []byte(m.ID)); err != nil {
				return errInternal(err)
			}
		}

		out = m
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, claimed, nil
}

// Acknowledge terminates the message. The checks run in contract order:
// existence, terminal short-circuit, ownership, lease liveness.
func (q *Queue) Acknowledge(ctx context.Context, id, pid string) error {
	return q.store.Update(ctx, func(tx kv.Tx) error {
		msgs, err := tx.Bucket(messageBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return depot.ErrMessageNotFound(id)
			}
			return errInternal(err)
		}

		buf, err := msgs.Get([]byte(id))
		if kv.IsNotFound(err) {
			return depot.ErrMessageNotFound(id)
		}
		if err != nil {
			return errInternal(err)
		}
		ver, m, err := unmarshalMessage(buf)
		if err != nil {
			return err
		}

		if m.Ack {
			return nil
		}
		if m.PID != pid {
			return depot.ErrWrongOwner(id, pid)
		}
		if q.clock.Now().After(m.LeaseDeadline) {
			return depot.ErrLeaseExpired(id)
		}

		m.Ack = true
		enc, err := marshalMessage(ver+1, m)
		if err != nil {
			return err
		}
		if err := msgs.Put([]byte(id), enc); err != nil {
			return errInternal(err)
		}

		idx, err := tx.Bucket(statusBucket)
		if err != nil {
			return errInternal(err)
		}
		if err := idx.Delete(statusKey(m.Topic, statusReserved, m.Timestamp, m.ID)); err != nil {
			return errInternal(err)
		}
		if err := idx.Put(statusKey(m.Topic, statusAcknowledged, m.Timestamp, m.ID), []byte(m.ID)); err != nil {
			return errInternal(err)
		}
		return nil
	})
}

// ExtendLease pushes the lease deadline to at least now + lease time. Unlike
// Acknowledge it is not idempotent: a terminated message cannot be
// un-terminated, so extending it fails loudly.
func (q *Queue) ExtendLease(ctx context.Context, id, pid string) error {
	return q.store.Update(ctx, func(tx kv.Tx) error {
		msgs, err := tx.Bucket(messageBucket)
		if err != nil {
			if err == kv.ErrBucketNotFound {
				return depot.ErrMessageNotFound(id)
			}
			return errInternal(err)
		}

		buf, err := msgs.Get([]byte(id))
		if kv.IsNotFound(err) {
			return depot.ErrMessageNotFound(id)
		}
		if err != nil {
			return errInternal(err)
		}
		ver, m, err := unmarshalMessage(buf)
		if err != nil {
			return err
		}

		if m.Ack {
			return depot.ErrAlreadyAcknowledged(id)
		}
		if m.PID != pid {
			return depot.ErrWrongOwner(id, pid)
		}
		now := q.clock.Now()
		if now.After(m.LeaseDeadline) {
			return depot.ErrLeaseExpired(id)
		}

		if d := now.Add(q.leaseTime).UTC(); d.After(m.LeaseDeadline) {
			m.LeaseDeadline = d
		}
		enc, err := marshalMessage(ver+1, m)
		if err != nil {
			return err
		}
		if err := msgs.Put([]byte(id), enc); err != nil {
			return errInternal(err)
		}
		return nil
	})
}

func errInternal(err error) error {
	return &depot.Error{
		Code: depot.EInternal,
		Msg:  "unexpected error in queue",
		Err:  err,
	}
}

func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].ts.Equal(cands[j].ts) {
			return cands[i].id < cands[j].id
		}
		return cands[i].ts.Before(cands[j].ts)
	})
}
