package api

import (
	"fmt"
	"strings"

	alecunits "github.com/alecthomas/units"
	"github.com/docker/go-units"
)

// Body-size clamp. The cap exists so one request can't balloon memory; the
// floor keeps a typo like "20" from rejecting every real message.
const (
	minBody = BodyLimit(1 * alecunits.KiB)
	maxBody = BodyLimit(50 * alecunits.MiB)
)

// BodyLimit is a request-body byte count that reads human-friendly sizes
// ("20MiB", "512kb", plain byte counts) from YAML and environment values.
type BodyLimit int64

func (b BodyLimit) String() string {
	return alecunits.Base2Bytes(b).String()
}

// SetValue implements cleanenv's Setter so the limit can come from an
// environment variable.
func (b *BodyLimit) SetValue(s string) error {
	return b.parse(s)
}

// UnmarshalYAML parses the limit from a user-provided YAML configuration,
// given either as a bare byte count or as a size string.
func (b *BodyLimit) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		*b = BodyLimit(n)
		return nil
	}

	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return b.parse(raw)
}

func (b *BodyLimit) parse(s string) error {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("can't parse %q as a body size: %v", s, err)
	}
	*b = BodyLimit(n)
	return nil
}

// Config represents the HTTP-facing options provided by the user. Not meant
// to be used without CheckAndSetDefaults.
type Config struct {
	ListenHost string `yaml:"listenHost" env:"HTTP_LISTEN_HOST"`
	ListenPort int    `yaml:"listenPort" env:"HTTP_LISTEN_PORT"`
	// MaxBody caps the request body of every POST.
	MaxBody BodyLimit `yaml:"maxBody" env:"HTTP_MAX_BODY"`
	// AuthTokens lists the values accepted in the Authorization header on
	// the /message routes. An empty list leaves the API open to anyone who
	// can reach it.
	AuthTokens []string `yaml:"authTokens" env:"HTTP_AUTH_TOKENS"`
	// DocsEnabled switches the /docs endpoint on.
	DocsEnabled bool `yaml:"docsEnabled" env:"HTTP_DOCS_ENABLED"`
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration.
func (c *Config) CheckAndSetDefaults() (Config, error) {
	if c.ListenHost == "" {
		c.ListenHost = "0.0.0.0"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 80
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return Config{}, fmt.Errorf("listen port %v is outside 1-65535", c.ListenPort)
	}

	if c.MaxBody == 0 {
		c.MaxBody = BodyLimit(20 * alecunits.MiB)
	}
	if c.MaxBody < minBody || c.MaxBody > maxBody {
		return Config{}, fmt.Errorf("max request body %v is outside %v-%v", c.MaxBody, minBody, maxBody)
	}

	// Tokens arrive comma-separated from the environment; tolerate spaces
	// around the commas and drop empty leftovers.
	tokens := make([]string, 0, len(c.AuthTokens))
	for _, t := range c.AuthTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	c.AuthTokens = tokens

	return *c, nil
}

// ListenAddr is the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%v:%v", c.ListenHost, c.ListenPort)
}
