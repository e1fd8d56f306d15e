package credential

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core"
)

// DefaultSessionPath is the intermediary's credential endpoint.
const DefaultSessionPath = "/session"

// Client requests credentials from the intermediary. It never sees the
// upstream API key.
type Client struct {
	BaseURL    string
	Path       string
	HTTPClient *http.Client
	Timeout    time.Duration

	// Optional bearer for intermediaries running with auth enabled.
	APIKey string
}

// RequestCredential performs one POST to the intermediary.
func (c *Client) RequestCredential(ctx context.Context) (*Credential, error) {
	if c == nil {
		return nil, core.NewCredentialError("credential client is nil", nil)
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, core.NewCredentialError("invalid broker url", err)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	return postForCredential(ctx, httpClient, timeout, endpoint, nil, func(req *http.Request) {
		if key := strings.TrimSpace(c.APIKey); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	})
}

func (c *Client) endpoint() (string, error) {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return "", errEmptyBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errBadScheme
	}
	path := strings.TrimSpace(c.Path)
	if path == "" {
		path = DefaultSessionPath
	}
	return u.JoinPath(path).String(), nil
}

type urlError string

func (e urlError) Error() string { return string(e) }

const (
	errEmptyBaseURL urlError = "base url must not be empty"
	errBadScheme    urlError = "base url must use http or https"
)
