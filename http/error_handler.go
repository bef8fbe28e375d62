// Package http exposes the depot core over a RESTful JSON API.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/depotdb/depot"
)

// ErrorHandler writes coded errors as JSON responses.
type ErrorHandler struct{}

var _ depot.HTTPErrorHandler = ErrorHandler{}

// statusCode maps platform error codes to HTTP status codes.
var statusCode = map[string]int{
	depot.EInternal:        http.StatusInternalServerError,
	depot.EInvalid:         http.StatusBadRequest,
	depot.ENotFound:        http.StatusNotFound,
	depot.EConflict:        http.StatusConflict,
	depot.ETooManyRequests: http.StatusTooManyRequests,
	depot.EUnavailable:     http.StatusServiceUnavailable,
}

// HandleHTTPError encodes err with the appropriate status code. The body is
// {"status":"error","message":...} with the error's structured context keys
// merged in.
func (h ErrorHandler) HandleHTTPError(ctx context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		return
	}

	code, ok := statusCode[depot.ErrorCode(err)]
	if !ok {
		code = http.StatusInternalServerError
	}

	body := map[string]interface{}{
		"status":  "error",
		"message": depot.ErrorMessage(err),
	}
	for k, v := range depot.ErrorData(err) {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	b, _ := json.Marshal(body)
	_, _ = w.Write(b)
}

// encodeResponse writes v as JSON with the given status code.
func encodeResponse(ctx context.Context, w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
