package mailer

import (
	"errors"
	"fmt"
	"time"

	"github.com/iaasstore/restmailer/dkim"
	"github.com/iaasstore/restmailer/smtpclient"
)

// Config represents the mail-facing options provided by the user: the
// sending identity, transport settings and DKIM material. Not meant to be
// used without CheckAndSetDefaults.
type Config struct {
	// Domain completes a message's from_user into a full sender address.
	Domain string `yaml:"domain" env:"MAIL_DOMAIN"`
	// ServerName is how this host introduces itself in EHLO and in
	// Message-Id headers.
	ServerName string `yaml:"serverName" env:"MAIL_SERVER_NAME"`
	// DefUsername is the sender local part used when a message doesn't name
	// one.
	DefUsername string `yaml:"defUsername" env:"MAIL_DEF_USERNAME"`
	// SMTPPort is the port deliveries go to on each mail exchanger. Only
	// worth changing in test setups.
	SMTPPort int `yaml:"smtpPort" env:"MAIL_SMTP_PORT"`
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"MAIL_DEF_SMTP_CONNECT_TIMEOUT"`
	// SendTimeout caps a whole delivery unless the message brings its own
	// send_timeout.
	SendTimeout time.Duration `yaml:"sendTimeout" env:"MAIL_DEF_MAIL_SEND_TIMEOUT"`
	// IgnoreSTARTTLSCert tolerates invalid server certificates during the
	// STARTTLS upgrade for messages that don't say otherwise.
	IgnoreSTARTTLSCert bool `yaml:"ignoreStarttlsCert" env:"MAIL_DEF_IGNORE_STARTTLS_CERT"`
	// Proxy routes SMTP connections through a socks5:// or http:// proxy.
	Proxy string `yaml:"proxy" env:"MAIL_PROXY"`
	// DKIMKeyPath points at a PEM-encoded RSA private key. Empty disables
	// signing.
	DKIMKeyPath  string `yaml:"dkimKeyPath" env:"MAIL_DKIM_KEY_PATH"`
	DKIMSelector string `yaml:"dkimSelector" env:"MAIL_DKIM_SELECTOR"`
	// MaxConcurrent caps how many background deliveries run at once.
	MaxConcurrent int64 `yaml:"maxConcurrent" env:"MAIL_MAX_CONCURRENT"`
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration. The DKIM key, if any, is test-loaded here so a bad key
// fails at startup rather than during the first delivery.
func (c *Config) CheckAndSetDefaults() (Config, error) {
	if c.Domain == "" {
		return Config{}, errors.New("user-provided config does not include a mail domain")
	}
	if c.ServerName == "" {
		return Config{}, errors.New("user-provided config does not include a mail server name")
	}

	if c.DefUsername == "" {
		c.DefUsername = "mailserver"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 25
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return Config{}, fmt.Errorf("smtp port %v is outside 1-65535", c.SMTPPort)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = time.Duration(5) * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = time.Duration(30) * time.Second
	}
	if c.DKIMSelector == "" {
		c.DKIMSelector = "mail"
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxConcurrent < 1 {
		return Config{}, fmt.Errorf("max concurrent deliveries must be positive, got %v", c.MaxConcurrent)
	}

	if _, err := smtpclient.NewDialer(c.Proxy, c.ConnectTimeout); err != nil {
		return Config{}, fmt.Errorf("proxy configuration is unusable: %v", err)
	}

	if c.DKIMKeyPath != "" {
		if _, err := dkim.NewFromFile(c.Domain, c.DKIMSelector, c.DKIMKeyPath); err != nil {
			return Config{}, fmt.Errorf("DKIM configuration is unusable: %v", err)
		}
	}

	return *c, nil
}

// UnmarshalYAML parses the mail section of a user-provided YAML
// configuration, returning any parsing errors. Durations are spelled the Go
// way, e.g. "30s" or "2m".
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// time.Duration can't be parsed from "5s" directly, hence the detour
	// through strings.
	var raw struct {
		Domain             string `yaml:"domain"`
		ServerName         string `yaml:"serverName"`
		DefUsername        string `yaml:"defUsername"`
		SMTPPort           int    `yaml:"smtpPort"`
		ConnectTimeout     string `yaml:"connectTimeout"`
		SendTimeout        string `yaml:"sendTimeout"`
		IgnoreSTARTTLSCert bool   `yaml:"ignoreStarttlsCert"`
		Proxy              string `yaml:"proxy"`
		DKIMKeyPath        string `yaml:"dkimKeyPath"`
		DKIMSelector       string `yaml:"dkimSelector"`
		MaxConcurrent      int64  `yaml:"maxConcurrent"`
	}
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("can't parse the mail config: %v", err)
	}

	c.Domain = raw.Domain
	c.ServerName = raw.ServerName
	c.DefUsername = raw.DefUsername
	c.SMTPPort = raw.SMTPPort
	c.IgnoreSTARTTLSCert = raw.IgnoreSTARTTLSCert
	c.Proxy = raw.Proxy
	c.DKIMKeyPath = raw.DKIMKeyPath
	c.DKIMSelector = raw.DKIMSelector
	c.MaxConcurrent = raw.MaxConcurrent

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"connectTimeout", raw.ConnectTimeout, &c.ConnectTimeout},
		{"sendTimeout", raw.SendTimeout, &c.SendTimeout},
	} {
		if d.value == "" {
			continue
		}
		pd, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("can't parse the user-provided %v as a duration: %v", d.name, err)
		}
		*d.dst = pd
	}

	return nil
}
