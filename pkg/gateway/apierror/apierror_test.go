package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-realtime/pkg/core"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_DeadlineIs504(t *testing.T) {
	_, status := FromError(fmt.Errorf("exchange: %w", context.DeadlineExceeded), "req_test")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_CredentialErrorIs502WithoutCause(t *testing.T) {
	in := core.NewCredentialError("upstream unreachable", errors.New("dial tcp: refused"))
	ce, status := FromError(fmt.Errorf("wrapped: %w", in), "req_1")
	if status != http.StatusBadGateway {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrCredential || ce.Message != "upstream unreachable" {
		t.Fatalf("error=%+v", ce)
	}
	if ce.Cause != nil {
		t.Fatalf("cause leaked into envelope")
	}
	if in.RequestID != "" {
		t.Fatalf("input error mutated")
	}
}

func TestFromError_StatusByType(t *testing.T) {
	cases := map[core.ErrorType]int{
		core.ErrInvalidRequest: http.StatusBadRequest,
		core.ErrAuthentication: http.StatusUnauthorized,
		core.ErrNotFound:       http.StatusNotFound,
		core.ErrRateLimit:      http.StatusTooManyRequests,
		core.ErrAPI:            http.StatusBadGateway,
		core.ErrToolConflict:   http.StatusInternalServerError,
	}
	for typ, want := range cases {
		if _, got := FromError(&core.Error{Type: typ, Message: "x"}, ""); got != want {
			t.Fatalf("%s: status=%d want %d", typ, got, want)
		}
	}
}

func TestFromError_UnknownIsInternal(t *testing.T) {
	ce, status := FromError(errors.New("secret detail"), "req_2")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if ce.Message != "internal error" {
		t.Fatalf("message=%q", ce.Message)
	}
}

func TestWrite_EnvelopeAndHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusTooManyRequests, &core.Error{Type: core.ErrRateLimit, Message: "slow down", RequestID: "req_9"})

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("cache-control=%q", got)
	}
	var env struct {
		Error struct {
			Type      string `json:"type"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v body=%q", err, rr.Body.String())
	}
	if env.Error.Type != string(core.ErrRateLimit) || env.Error.Message != "slow down" || env.Error.RequestID != "req_9" {
		t.Fatalf("envelope=%+v", env.Error)
	}
}
