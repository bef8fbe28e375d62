package depot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Error codes recognized across the platform. Handlers translate them to
// transport status codes; see http.ErrorHandler.
const (
	EInternal        = "internal error"
	EInvalid         = "invalid"   // validation failed
	ENotFound        = "not found" // entity does not exist
	EConflict        = "conflict"  // action cannot be performed
	ETooManyRequests = "too many requests"
	EUnavailable     = "unavailable"
)

// Kind tags carried in Error.Data under "error" so API consumers can
// dispatch without parsing messages.
const (
	KindInvalidStateTransition   = "invalid-state-transition"
	KindInvalidVersionState      = "invalid-version-state"
	KindInvalidVersionForDataset = "invalid-version-for-dataset"
	KindTablesNotFound           = "tables-not-found"
	KindNoActiveVersion          = "no-active-version"
	KindAlreadyAcknowledged      = "already-acknowledged"
)

// Error is the error type of the depot platform.
//
// Errors carry a machine-readable Code, a human-readable Msg, and a logical
// stack trace built from Op and Err. Data holds structured context that the
// HTTP layer merges into the response body (for example the offending version
// record, or the list of missing tables).
//
// A simple error:
//
//	&Error{Code: ENotFound}
//
// To show where the error happens, add Op:
//
//	&Error{Code: ENotFound, Op: "meta.FindDataset"}
//
// To wrap a backend error:
//
//	&Error{Code: EInternal, Err: err}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
	Data map[string]interface{}
}

// Error implements the error interface by writing out the recursive messages.
func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Code)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code of the root error, if available; otherwise
// returns EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return EInternal
	}

	if e == nil {
		return ""
	}

	if e.Code != "" {
		return e.Code
	}

	if e.Err != nil {
		return ErrorCode(e.Err)
	}

	return EInternal
}

// ErrorOp returns the op of the error, if available; otherwise returns an
// empty string.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return ""
	}

	if e == nil {
		return ""
	}

	if e.Op != "" {
		return e.Op
	}

	if e.Err != nil {
		return ErrorOp(e.Err)
	}

	return ""
}

// ErrorMessage returns the human-readable message of the error, if available.
// Otherwise returns a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return "An internal error has occurred."
	}

	if e == nil {
		return ""
	}

	if e.Msg != "" {
		return e.Msg
	}

	if e.Err != nil {
		return ErrorMessage(e.Err)
	}

	return "An internal error has occurred."
}

// ErrorData returns the structured context of the outermost error that
// carries any.
func ErrorData(err error) map[string]interface{} {
	e, ok := err.(*Error)
	if !ok || e == nil {
		return nil
	}

	if len(e.Data) > 0 {
		return e.Data
	}

	if e.Err != nil {
		return ErrorData(e.Err)
	}

	return nil
}

// ErrorKind returns the kind tag of the error, if any.
func ErrorKind(err error) string {
	d := ErrorData(err)
	if d == nil {
		return ""
	}
	k, _ := d["error"].(string)
	return k
}

// errEncode is a JSON encoding helper needed to handle the recursive stack
// of errors.
type errEncode struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message,omitempty"`
	Op   string                 `json:"op,omitempty"`
	Err  interface{}            `json:"error,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// MarshalJSON recursively marshals the stack of Err.
func (e *Error) MarshalJSON() ([]byte, error) {
	ee := errEncode{
		Code: e.Code,
		Msg:  e.Msg,
		Op:   e.Op,
		Data: e.Data,
	}
	if e.Err != nil {
		if inner, ok := e.Err.(*Error); ok {
			ee.Err = inner
		} else {
			ee.Err = e.Err.Error()
		}
	}
	return json.Marshal(ee)
}

// HTTPErrorHandler is the interface served by transport layers to write an
// error to a response.
type HTTPErrorHandler interface {
	HandleHTTPError(ctx context.Context, err error, w http.ResponseWriter)
}
