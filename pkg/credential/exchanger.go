package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vango-go/vai-realtime/pkg/core"
)

const (
	DefaultUpstreamURL = "https://api.openai.com/v1/realtime/client_secrets"
	DefaultModel       = "gpt-realtime"

	defaultExchangeTimeout = 10 * time.Second
	maxResponseBytes       = 1 << 20
)

var tracer = otel.Tracer("github.com/vango-go/vai-realtime/pkg/credential")

// Exchanger mints credentials from the upstream agent service using the
// privileged API key. It must only run on a trusted intermediary.
type Exchanger struct {
	APIKey      string
	UpstreamURL string
	Model       string
	Voice       string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      *slog.Logger
}

type exchangeRequest struct {
	Session exchangeSession `json:"session"`
}

type exchangeSession struct {
	Type  string         `json:"type"`
	Model string         `json:"model"`
	Audio *exchangeAudio `json:"audio,omitempty"`
}

type exchangeAudio struct {
	Output exchangeAudioOutput `json:"output"`
}

type exchangeAudioOutput struct {
	Voice string `json:"voice"`
}

// RequestCredential performs exactly one upstream exchange. No retry.
func (e *Exchanger) RequestCredential(ctx context.Context) (*Credential, error) {
	if e == nil || strings.TrimSpace(e.APIKey) == "" {
		return nil, core.NewCredentialError("upstream api key is not configured", nil)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	model := strings.TrimSpace(e.Model)
	if model == "" {
		model = DefaultModel
	}
	endpoint := strings.TrimSpace(e.UpstreamURL)
	if endpoint == "" {
		endpoint = DefaultUpstreamURL
	}

	ctx, span := tracer.Start(ctx, "credential.exchange")
	defer span.End()
	span.SetAttributes(attribute.String("realtime.model", model))

	payload := exchangeRequest{Session: exchangeSession{Type: "realtime", Model: model}}
	if voice := strings.TrimSpace(e.Voice); voice != "" {
		payload.Session.Audio = &exchangeAudio{Output: exchangeAudioOutput{Voice: voice}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewCredentialError("encode exchange request", err)
	}

	cred, err := postForCredential(ctx, e.httpClient(), e.timeout(), endpoint, body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(e.APIKey))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.Status != 0 {
			span.SetAttributes(attribute.Int("http.status_code", coreErr.Status))
			logger.Error("upstream credential exchange rejected", "status", coreErr.Status, "body", coreErr.Body)
		} else {
			logger.Error("upstream credential exchange failed", "error", err)
		}
		return nil, err
	}
	logger.Info("client secret created", "credential", cred)
	return cred, nil
}

func (e *Exchanger) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

func (e *Exchanger) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return defaultExchangeTimeout
}

// postForCredential is shared by the Exchanger and the Client: one POST, a
// bounded wait, verbatim body on non-2xx.
func postForCredential(ctx context.Context, client *http.Client, timeout time.Duration, endpoint string, body []byte, decorate func(*http.Request)) (*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return nil, core.NewCredentialError("build exchange request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewCredentialError(fmt.Sprintf("exchange timed out after %s", timeout), err)
		}
		return nil, core.NewCredentialError("exchange request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.NewCredentialError("read exchange response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewCredentialStatusError(resp.StatusCode, string(raw))
	}

	cred, err := Parse(raw)
	if err != nil {
		return nil, core.NewCredentialError("decode exchange response", err)
	}
	return cred, nil
}

// Envelope is the normalized body the intermediary returns to clients.
type Envelope struct {
	ClientSecret EnvelopeSecret `json:"client_secret"`
}

type EnvelopeSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Seal consumes cred into the wire envelope handed to exactly one client.
func Seal(cred *Credential) (Envelope, error) {
	value, err := cred.Consume()
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{ClientSecret: EnvelopeSecret{Value: value}}
	if !cred.ExpiresAt.IsZero() {
		env.ClientSecret.ExpiresAt = cred.ExpiresAt.Unix()
	}
	return env, nil
}
