package meta

import (
	"fmt"

	"github.com/depotdb/depot"
)

// ErrDatasetNotFound builds the error for a missing dataset.
func ErrDatasetNotFound(name string) error {
	return &depot.Error{
		Code: depot.ENotFound,
		Msg:  fmt.Sprintf("dataset %q not found", name),
	}
}

// ErrDatasetAlreadyExists builds the error for a duplicate dataset name.
func ErrDatasetAlreadyExists(name string) error {
	return &depot.Error{
		Code: depot.EConflict,
		Msg:  fmt.Sprintf("dataset %q already exists", name),
	}
}

// ErrVersionNotFound builds the error for a missing version.
func ErrVersionNotFound(id string) error {
	return &depot.Error{
		Code: depot.ENotFound,
		Msg:  fmt.Sprintf("version %q not found", id),
	}
}

// ErrConcurrentModification builds the error surfaced when a conditional
// write lost a race. Callers do not retry; the API caller may.
func ErrConcurrentModification(id string) error {
	return &depot.Error{
		Code: depot.EConflict,
		Msg:  fmt.Sprintf("record %q was modified concurrently", id),
	}
}

// ErrInternal wraps an unexpected backend failure.
func ErrInternal(err error) error {
	return &depot.Error{
		Code: depot.EInternal,
		Msg:  "unexpected error in metadata store",
		Err:  err,
	}
}
