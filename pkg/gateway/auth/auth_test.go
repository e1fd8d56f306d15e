package auth

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer rb_123", "rb_123", true},
		{"bearer   rb_123  ", "rb_123", true},
		{"BEARER rb_123", "rb_123", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/session", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, ok := ParseBearer(req)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseBearer(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
	if _, ok := ParseBearer(nil); ok {
		t.Fatalf("ParseBearer(nil) should fail")
	}
}

func TestLookup(t *testing.T) {
	keys := map[string]struct{}{"k1": {}, "k2": {}}
	if !Lookup(keys, "k2") {
		t.Fatalf("expected k2 to match")
	}
	if Lookup(keys, "k3") || Lookup(keys, "") || Lookup(nil, "k1") {
		t.Fatalf("unexpected match")
	}
}

func TestPrincipalContextAndLogging(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context should carry no principal")
	}
	p := &Principal{APIKey: "rb_secret_key"}
	got, ok := PrincipalFrom(WithPrincipal(context.Background(), p))
	if !ok || got != p {
		t.Fatalf("PrincipalFrom = %v, %v", got, ok)
	}

	fp := p.Fingerprint()
	if !strings.HasPrefix(fp, "key_") || len(fp) != len("key_")+12 {
		t.Fatalf("Fingerprint = %q", fp)
	}
	if fp != (&Principal{APIKey: "rb_secret_key"}).Fingerprint() {
		t.Fatalf("Fingerprint must be stable")
	}

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("issued", "principal", p)
	if strings.Contains(buf.String(), "rb_secret_key") {
		t.Fatalf("log leaked api key: %s", buf.String())
	}
	if !strings.Contains(buf.String(), fp) {
		t.Fatalf("log missing fingerprint: %s", buf.String())
	}
	if (*Principal)(nil).Fingerprint() != "" {
		t.Fatalf("nil principal fingerprint should be empty")
	}
}
