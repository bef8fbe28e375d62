package depot

import (
	"context"
	"fmt"
	"time"
)

// Action is the kind tag of a queue message body.
type Action string

// Actions exchanged on the operations topic.
const (
	ActionPrepare    Action = "prepare"
	ActionSave       Action = "save"
	ActionPublish    Action = "publish"
	ActionDiscard    Action = "discard"
	ActionFail       Action = "fail"
	ActionVerifyData Action = "verify-data"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionPrepare, ActionSave, ActionPublish, ActionDiscard, ActionFail, ActionVerifyData:
		return true
	}
	return false
}

// MessageBody is the payload carried by an operations message.
type MessageBody struct {
	Action    Action `json:"action"`
	VersionID string `json:"version-id"`
	Reason    string `json:"reason,omitempty"`
}

// Message is one durable queue record. PID names the process holding the
// lease; it is empty before the first reservation. Ack true is terminal.
type Message struct {
	ID            string      `json:"id"`
	Topic         string      `json:"topic"`
	Timestamp     time.Time   `json:"timestamp"`
	Body          MessageBody `json:"body"`
	PID           string      `json:"pid,omitempty"`
	LeaseDeadline time.Time   `json:"lease-deadline,omitempty"`
	Ack           bool        `json:"ack"`
}

// MessageStatus selects messages in List by lifecycle position.
type MessageStatus string

// Message statuses. The three persisted states are new, reserved and
// acknowledged; expired is a reserved message whose lease deadline passed.
const (
	MessageStatusAll          MessageStatus = "all"
	MessageStatusNew          MessageStatus = "new"
	MessageStatusReserved     MessageStatus = "reserved"
	MessageStatusAcknowledged MessageStatus = "acknowledged"
	MessageStatusExpired      MessageStatus = "expired"
)

// MessageFilter narrows List. Topic is mandatory.
type MessageFilter struct {
	Topic  string
	Status MessageStatus
	PID    *string
}

// Queue is the contract for the durable at-least-once action queue.
//
// Reservation hands out a time-bounded lease. A message is reservable iff it
// is not acknowledged and it has no live lease. Selection prefers earlier
// timestamps but only considers a bounded window of candidates, so strict
// FIFO is not guaranteed under contention.
type Queue interface {
	// Send enqueues body on topic and returns the generated message id.
	Send(ctx context.Context, topic string, body MessageBody) (string, error)
	// SendWithID enqueues idempotently under a caller-supplied id; resending
	// an existing id is a no-op.
	SendWithID(ctx context.Context, topic, id string, body MessageBody) error
	// ReserveNext leases the next reservable message on topic to pid. It
	// fails with a no-message error when nothing is reservable.
	ReserveNext(ctx context.Context, topic, pid string) (*Message, error)
	// Acknowledge terminates the message. Acknowledging an already
	// acknowledged message is a no-op.
	Acknowledge(ctx context.Context, id, pid string) error
	// ExtendLease pushes the lease deadline to at least now + lease time.
	ExtendLease(ctx context.Context, id, pid string) error
	// List returns messages matching filter, earliest first.
	List(ctx context.Context, filter MessageFilter) ([]*Message, error)
}

// Queue error kind tags.
const (
	KindNoMessage    = "no-message"
	KindWrongOwner   = "wrong-owner"
	KindLeaseExpired = "lease-expired"
)

// ErrNoMessage builds the error returned when no message is reservable on
// the topic.
func ErrNoMessage(topic string) error {
	return &Error{
		Code: ENotFound,
		Msg:  fmt.Sprintf("no message available on topic %q", topic),
		Data: map[string]interface{}{"error": KindNoMessage},
	}
}

// ErrMessageNotFound builds the error returned when the referenced message
// does not exist. It carries the same kind tag as ErrNoMessage.
func ErrMessageNotFound(id string) error {
	return &Error{
		Code: ENotFound,
		Msg:  fmt.Sprintf("message %q not found", id),
		Data: map[string]interface{}{"error": KindNoMessage},
	}
}

// ErrWrongOwner builds the error returned when pid does not hold the lease.
func ErrWrongOwner(id, pid string) error {
	return &Error{
		Code: EConflict,
		Msg:  fmt.Sprintf("message %s is not leased to %s", id, pid),
		Data: map[string]interface{}{"error": KindWrongOwner},
	}
}

// ErrLeaseExpired builds the error returned when the lease deadline passed
// before the operation.
func ErrLeaseExpired(id string) error {
	return &Error{
		Code: EConflict,
		Msg:  fmt.Sprintf("lease on message %s has expired", id),
		Data: map[string]interface{}{"error": KindLeaseExpired},
	}
}

// ErrAlreadyAcknowledged builds the error returned when extending the lease
// of a terminated message.
func ErrAlreadyAcknowledged(id string) error {
	return &Error{
		Code: EConflict,
		Msg:  fmt.Sprintf("message %s is already acknowledged", id),
		Data: map[string]interface{}{"error": KindAlreadyAcknowledged},
	}
}

// IsNoMessage reports whether err is a no-message error.
func IsNoMessage(err error) bool {
	return ErrorKind(err) == KindNoMessage
}
