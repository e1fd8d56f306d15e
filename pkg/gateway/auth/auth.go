// Package auth carries the caller identity established from the broker's own
// API keys. These keys gate POST /session and are unrelated to the upstream
// key, which never leaves the broker.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

// Fingerprint is a short, non-reversible id that is safe to log.
func (p *Principal) Fingerprint() string {
	if p == nil || p.APIKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return "key_" + hex.EncodeToString(sum[:])[:12]
}

// LogValue implements slog.LogValuer so a principal never logs its key.
func (p *Principal) LogValue() slog.Value {
	return slog.StringValue(p.Fingerprint())
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func ParseBearer(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// Lookup reports whether token is one of keys. Every key is compared so the
// time taken does not depend on which key matched.
func Lookup(keys map[string]struct{}, token string) bool {
	if token == "" {
		return false
	}
	match := 0
	for k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(k), []byte(token))
	}
	return match == 1
}
