// Package apierror renders broker failures as the canonical JSON envelope
// {"error": {...}} and picks their HTTP status.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-realtime/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

var statusByType = map[core.ErrorType]int{
	core.ErrInvalidRequest: http.StatusBadRequest,
	core.ErrAuthentication: http.StatusUnauthorized,
	core.ErrNotFound:       http.StatusNotFound,
	core.ErrRateLimit:      http.StatusTooManyRequests,
	core.ErrCredential:     http.StatusBadGateway,
	core.ErrConnection:     http.StatusBadGateway,
	core.ErrAPI:            http.StatusBadGateway,
}

// Status maps an error type to its response status. Unlisted types are
// internal failures.
func Status(t core.ErrorType) int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// FromError converts err for the wire. The returned error is a copy
// stamped with requestID; causes and unknown error text are never exposed.
func FromError(err error, requestID string) (*core.Error, int) {
	switch {
	case err == nil:
		return nil, http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return &core.Error{Type: core.ErrAPI, Message: "request timeout", RequestID: requestID},
			http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return &core.Error{Type: core.ErrAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID},
			http.StatusRequestTimeout
	}

	var known *core.Error
	if !errors.As(err, &known) || known == nil {
		return &core.Error{Type: core.ErrAPI, Message: "internal error", RequestID: requestID},
			http.StatusInternalServerError
	}
	out := *known
	out.Cause = nil
	out.RequestID = requestID
	return &out, Status(known.Type)
}

// Write sends e in the envelope. Responses are never cached.
func Write(w http.ResponseWriter, status int, e *core.Error) {
	WriteJSON(w, status, Envelope{Error: e})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
