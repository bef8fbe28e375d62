package depot

import (
	"context"
	"fmt"
)

// Status is the lifecycle state of a dataset version.
type Status string

// The version lifecycle. A version starts in StatusPreparing and moves along
// the edges of statusGraph; StatusDiscarded and StatusFailed are terminal.
const (
	StatusPreparing       Status = "preparing"
	StatusAwaitingEntries Status = "awaiting-entries"
	StatusSaving          Status = "saving"
	StatusSaved           Status = "saved"
	StatusPublishing      Status = "publishing"
	StatusPublished       Status = "published"
	StatusDiscarded       Status = "discarded"
	StatusFailed          Status = "failed"
)

// statusGraph holds the allowed transitions. published → saved exists so the
// publish handler can demote the previously published version when a new one
// is promoted; at most one version per dataset is published at a time.
var statusGraph = map[Status][]Status{
	StatusPreparing:       {StatusAwaitingEntries, StatusDiscarded, StatusFailed},
	StatusAwaitingEntries: {StatusSaving, StatusDiscarded, StatusFailed},
	StatusSaving:          {StatusSaved, StatusDiscarded, StatusFailed},
	StatusSaved:           {StatusPublishing, StatusPublished, StatusDiscarded, StatusFailed},
	StatusPublishing:      {StatusPublished, StatusDiscarded, StatusFailed},
	StatusPublished:       {StatusSaved},
	StatusDiscarded:       nil,
	StatusFailed:          nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusGraph[s]
	return ok
}

// CanTransitionTo reports whether the edge s → target exists in the
// lifecycle graph.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range statusGraph[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no edges leave s.
func (s Status) Terminal() bool {
	return s.Valid() && len(statusGraph[s]) == 0
}

// ErrInvalidTransition builds the coded error returned when a status change
// does not follow the lifecycle graph.
func ErrInvalidTransition(id string, from, to Status) error {
	return &Error{
		Code: EInvalid,
		Msg:  fmt.Sprintf("version %s cannot move from %s to %s", id, from, to),
		Data: map[string]interface{}{
			"error": KindInvalidStateTransition,
			"from":  string(from),
			"to":    string(to),
		},
	}
}

// Version is an immutable staging area for one dataset. Only Status and the
// operation log change after creation.
type Version struct {
	ID                 string                 `json:"id"`
	Label              string                 `json:"label,omitempty"`
	Dataset            string                 `json:"dataset"`
	Status             Status                 `json:"status"`
	VerificationPolicy map[string]interface{} `json:"verification-policy,omitempty"`
	OperationLog       []OperationRecord      `json:"operation-log,omitempty"`
}

// Validate checks the version for a well-formed id, dataset reference and
// status.
func (v *Version) Validate() error {
	if v.ID == "" {
		return &Error{Code: EInvalid, Msg: "version id must not be empty"}
	}
	if !ValidName(v.Dataset) {
		return &Error{
			Code: EInvalid,
			Msg:  fmt.Sprintf("version dataset %q must be a non-empty web-safe string", v.Dataset),
		}
	}
	if !v.Status.Valid() {
		return &Error{
			Code: EInvalid,
			Msg:  fmt.Sprintf("unrecognized version status %q", v.Status),
		}
	}
	return nil
}

// VersionFilter narrows ListVersions.
type VersionFilter struct {
	Dataset *string
}

// VersionService is the contract for version metadata access and the status
// state machine.
//
// UpdateStatus enforces the lifecycle graph and the compare-and-set
// discipline: implementations read the record with its change counter,
// validate the transition, and write conditionally on the counter, failing
// with EConflict when a concurrent writer got there first. Audit may be nil;
// every successful transition appends one operation-log record.
//
// ActivateVersion flips the owning dataset's active-version pointer to the
// given version, which must currently be published.
type VersionService interface {
	CreateVersion(ctx context.Context, v *Version) error
	FindVersion(ctx context.Context, id string) (*Version, error)
	ListVersions(ctx context.Context, filter VersionFilter) ([]*Version, error)
	UpdateStatus(ctx context.Context, id string, target Status, audit map[string]string) (*Version, error)
	ActivateVersion(ctx context.Context, id string) error
}
