package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExchange(t *testing.T) {
	m := New("")
	m.RecordExchange("ok", 120*time.Millisecond)
	m.RecordExchange("ok", 80*time.Millisecond)
	m.RecordExchange("401", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ExchangesTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok exchanges=%v", got)
	}
	if got := testutil.ToFloat64(m.ExchangesTotal.WithLabelValues("401")); got != 1 {
		t.Fatalf("401 exchanges=%v", got)
	}
	if n := testutil.CollectAndCount(m.ExchangeDuration); n != 1 {
		t.Fatalf("histogram series=%d", n)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New("test")
	h := m.Middleware("session", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/session", nil))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("session", "502")); got != 1 {
		t.Fatalf("requests=%v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("")
	m.RecordRateLimitHit("ip")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `realtime_broker_rate_limit_hits_total{principal_kind="ip"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordExchange("ok", time.Second)
	m.RecordRequest("session", 200, time.Second)
	m.RecordRateLimitHit("ip")

	called := false
	h := m.Middleware("session", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("nil metrics middleware must pass through")
	}
}
