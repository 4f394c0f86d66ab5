// Package middleware provides the HTTP middleware shared by every route.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gerrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the client-facing view of an error envelope. RequestID comes
// from the envelope's correlation id and Details from its context.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewError returns an envelope correlated with the request's id.
func NewError(r *http.Request, code, message string) *gerrors.ErrorEnvelope {
	return gerrors.NewErrorEnvelope(code, message).WithCorrelationID(GetRequestID(r.Context()))
}

// WriteError writes an error reply tagged with the request's id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorResponse(w, NewError(r, code, message), status)
}

// WriteEnvelope writes a prepared envelope as an error reply.
func WriteEnvelope(w http.ResponseWriter, envelope *gerrors.ErrorEnvelope, status int) {
	writeErrorResponse(w, envelope, status)
}

func writeErrorResponse(w http.ResponseWriter, envelope *gerrors.ErrorEnvelope, status int) {
	body := ErrorBody{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
	}
	if len(envelope.Context) > 0 || len(envelope.Details) > 0 {
		body.Details = make(map[string]any, len(envelope.Context)+len(envelope.Details))
		for k, v := range envelope.Details {
			body.Details[k] = v
		}
		for k, v := range envelope.Context {
			body.Details[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}

// Recovery turns a panicking handler into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())))
		})
	}
}
