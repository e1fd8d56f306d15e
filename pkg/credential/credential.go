// Package credential obtains short-lived realtime credentials.
//
// The Exchanger runs on the trusted intermediary and is the only holder of the
// upstream API key. The Client runs on the calling device and only ever talks
// to the intermediary. Both hand out single-use *Credential values.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ErrConsumed is returned by Consume on a credential that was already used.
var ErrConsumed = errors.New("credential already consumed")

// Broker is implemented by anything that can produce a fresh credential.
type Broker interface {
	RequestCredential(ctx context.Context) (*Credential, error)
}

// Credential is an ephemeral, single-use secret. It never renders its value
// through fmt or slog.
type Credential struct {
	value     string
	ExpiresAt time.Time

	used atomic.Bool
}

// New wraps a raw value. Intended for brokers and tests.
func New(value string, expiresAt time.Time) *Credential {
	return &Credential{value: strings.TrimSpace(value), ExpiresAt: expiresAt}
}

// Consume returns the secret value exactly once.
func (c *Credential) Consume() (string, error) {
	if c == nil || c.value == "" {
		return "", errors.New("credential is empty")
	}
	if !c.used.CompareAndSwap(false, true) {
		return "", ErrConsumed
	}
	return c.value, nil
}

// Consumed reports whether Consume has been called.
func (c *Credential) Consumed() bool {
	return c != nil && c.used.Load()
}

// Expired reports whether the upstream expiry hint has passed.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// String implements fmt.Stringer with a redacted form.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return redact(c.value)
}

// LogValue implements slog.LogValuer.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{slog.String("value", redact(c.value))}
	if !c.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.Time("expires_at", c.ExpiresAt))
	}
	attrs = append(attrs, slog.Bool("consumed", c.used.Load()))
	return slog.GroupValue(attrs...)
}

// MarshalJSON keeps the secret out of accidental JSON dumps.
func (c *Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func redact(v string) string {
	if v == "" {
		return "<empty>"
	}
	prefix := v
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return prefix + "…(redacted)"
}

// secretPayload is the union of the credential shapes seen from upstream and
// from the intermediary.
type secretPayload struct {
	Value        string          `json:"value"`
	ExpiresAt    int64           `json:"expires_at"`
	ID           string          `json:"id"`
	ClientSecret json.RawMessage `json:"client_secret"`
}

// Parse extracts a credential from any of:
//
//	{"value":"ek_…","expires_at":1700000000}
//	{"client_secret":{"value":"ek_…","expires_at":1700000000}}
//	{"client_secret":{"value":…}} nested one level deeper by the intermediary
//	{"id":"sess_…"}
func Parse(body []byte) (*Credential, error) {
	var p secretPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return p.credential(0)
}

func (p secretPayload) credential(depth int) (*Credential, error) {
	if v := strings.TrimSpace(p.Value); v != "" {
		return New(v, unixOrZero(p.ExpiresAt)), nil
	}
	if len(p.ClientSecret) > 0 && depth < 2 {
		var raw string
		if err := json.Unmarshal(p.ClientSecret, &raw); err == nil && strings.TrimSpace(raw) != "" {
			return New(raw, unixOrZero(p.ExpiresAt)), nil
		}
		var nested secretPayload
		if err := json.Unmarshal(p.ClientSecret, &nested); err == nil {
			if cred, err := nested.credential(depth + 1); err == nil {
				return cred, nil
			}
		}
	}
	if id := strings.TrimSpace(p.ID); id != "" {
		return New(id, unixOrZero(p.ExpiresAt)), nil
	}
	return nil, errors.New("response carries no credential value")
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
