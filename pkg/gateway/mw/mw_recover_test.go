package mw

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-realtime/pkg/core"
)

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected content-type header to be set")
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAPI {
		t.Fatalf("type=%q", env.Error.Type)
	}
	if env.Error.RequestID == "" {
		t.Fatalf("expected request_id to be set")
	}
	if got := rr.Header().Get("X-Request-ID"); got == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestRequestID_KeepsCallerValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	h.ServeHTTP(rr, req)

	if seen != "req_caller" || rr.Header().Get("X-Request-ID") != "req_caller" {
		t.Fatalf("request id=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	rr := httptest.NewRecorder()
	RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") || len(got) != 36 {
		t.Fatalf("X-Request-ID=%q", got)
	}
}

func parseSingleLogRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	return rec
}

func TestAccessLog_StatusLogging_ExplicitWriteHeader(t *testing.T) {
	out := &bytes.Buffer{}
	h := AccessLog(slog.New(slog.NewJSONHandler(out, nil)), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session", nil).WithContext(WithRequestID(t.Context(), "req_test")))

	rec := parseSingleLogRecord(t, out)
	if got, ok := rec["status"].(float64); !ok || int(got) != http.StatusBadGateway {
		t.Fatalf("logged status=%v, want %d", rec["status"], http.StatusBadGateway)
	}
	if rec["request_id"] != "req_test" || rec["path"] != "/session" {
		t.Fatalf("record=%v", rec)
	}
}

func TestAccessLog_StatusLogging_ImplicitWriteIs200(t *testing.T) {
	out := &bytes.Buffer{}
	h := AccessLog(slog.New(slog.NewJSONHandler(out, nil)), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := parseSingleLogRecord(t, out)
	if got, ok := rec["status"].(float64); !ok || int(got) != http.StatusOK {
		t.Fatalf("logged status=%v, want %d", rec["status"], http.StatusOK)
	}
}

func TestRequestID_ReplacesOversizedValue(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 129))
	RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Fatalf("X-Request-ID=%q, oversized caller id should be replaced", got)
	}
}

func TestRecover_PanicAfterWriteKeepsResponse(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "partial")
		panic("late")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rr.Code != http.StatusAccepted || rr.Body.String() != "partial" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestAccessLog_ServerErrorsLogAtErrorLevel(t *testing.T) {
	out := &bytes.Buffer{}
	h := AccessLog(slog.New(slog.NewJSONHandler(out, nil)), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session", nil))

	rec := parseSingleLogRecord(t, out)
	if rec["level"] != "ERROR" {
		t.Fatalf("level=%v, want ERROR", rec["level"])
	}
	if got, _ := rec["bytes"].(float64); got == 0 {
		t.Fatalf("bytes=%v, want > 0", rec["bytes"])
	}
}
