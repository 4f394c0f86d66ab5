// Package handlers implements the HTTP API over the job lifecycle controller
// and the command registry.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	gerrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/gosbatch/internal/server/middleware"
	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// HTTPErrorResponder writes err as an HTTP response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the error responder. Nil restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = defaultErrorResponder
	}
	httpErrorResponder = fn
}

func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// StatusFor maps an error kind to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errdefs.IsNotFound(err), errdefs.IsTemplateNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errdefs.IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errdefs.IsCommandFailed(err):
		return http.StatusBadGateway, "COMMAND_FAILED"
	case errdefs.IsTransport(err):
		return http.StatusServiceUnavailable, "TRANSPORT_ERROR"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	envelope := gerrors.NewErrorEnvelope(code, err.Error()).
		WithCorrelationID(middleware.GetRequestID(r.Context()))
	middleware.WriteEnvelope(w, envelope, status)
}

var errBadRequest = errors.New("bad request")

// writeErrorDetails writes an error reply whose details come from the
// envelope context. Field values must be strings, numbers, booleans or string slices; others are dropped.
func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, fields map[string]any) {
	envelope, _ := middleware.NewError(r, code, message).WithContext(fields)
	middleware.WriteEnvelope(w, envelope, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
}

// MethodNotAllowed answers known routes hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not allowed on "+r.URL.Path)
}
