// Package agentconfig loads the advisor's agent profile from YAML.
package agentconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-realtime/internal/catalog"
	"github.com/vango-go/vai-realtime/pkg/realtime"
)

const DefaultBrokerURL = "http://localhost:5000"

const defaultInstructions = `You are a knowledgeable product advisor. Help users find the right products for their needs.

Key guidelines:
- Listen carefully to what the user is looking for
- Ask clarifying questions about their specific needs, health concerns, or preferences
- Use the search_products tool to find relevant products
- Provide detailed explanations of product benefits
- Be enthusiastic but honest about product recommendations
- If you don't find exact matches, suggest similar alternatives
- Always mention that these are wellness products and not medical treatments

Focus on understanding the user's lifestyle, health goals, and preferences to make personalized recommendations.`

type Profile struct {
	Name        string                 `yaml:"name"`
	Broker      Broker                 `yaml:"broker"`
	Channel     Channel                `yaml:"channel"`
	Session     realtime.SessionConfig `yaml:"session"`
	ToolTimeout time.Duration          `yaml:"tool_timeout"`
	Products    []catalog.Product      `yaml:"products"`
}

// Broker locates the credential broker.
type Broker struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Channel overrides the realtime endpoint. Empty fields keep library defaults.
type Channel struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// Default is the built-in product advisor profile.
func Default() Profile {
	session := realtime.DefaultSessionConfig()
	session.Instructions = defaultInstructions
	return Profile{
		Name:        "Product Advisor",
		Broker:      Broker{URL: DefaultBrokerURL, Timeout: 10 * time.Second},
		Session:     session,
		ToolTimeout: 15 * time.Second,
	}
}

// Load reads path over Default. ${VAR} references are expanded from the
// environment before parsing. An empty path returns Default.
func Load(path string) (Profile, error) {
	if strings.TrimSpace(path) == "" {
		p := Default()
		return p, p.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read agent profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("agent profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a single YAML document over Default and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (Profile, error) {
	p := Default()

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("parse: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("parse: expected single document")
	}

	p.Session = p.Session.Normalized()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) Validate() error {
	u, err := url.Parse(strings.TrimSpace(p.Broker.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("broker.url must be an absolute http(s) URL")
	}
	if p.Broker.Timeout < 0 || p.Channel.HandshakeTimeout < 0 || p.Channel.PingInterval < 0 || p.ToolTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	for i, prod := range p.Products {
		if strings.TrimSpace(prod.Name) == "" {
			return fmt.Errorf("products[%d].name must be set", i)
		}
	}
	if err := p.Session.Normalized().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// DialOptions translates the channel section into realtime dial options.
func (p Profile) DialOptions() []realtime.DialOption {
	var opts []realtime.DialOption
	if u := strings.TrimSpace(p.Channel.URL); u != "" {
		opts = append(opts, realtime.WithURL(u))
	}
	if p.Channel.HandshakeTimeout > 0 {
		opts = append(opts, realtime.WithHandshakeTimeout(p.Channel.HandshakeTimeout))
	}
	if p.Channel.PingInterval > 0 {
		opts = append(opts, realtime.WithPingInterval(p.Channel.PingInterval))
	}
	return opts
}
