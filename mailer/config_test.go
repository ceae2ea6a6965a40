package mailer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	yaml "gopkg.in/yaml.v2"
)

func TestCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description string
		conf        Config
		wantErr     bool
	}{
		{
			description: "minimal config is enough",
			conf: Config{
				Domain:     "example.com",
				ServerName: "mail.example.com",
			},
		},
		{
			description: "missing domain",
			conf: Config{
				ServerName: "mail.example.com",
			},
			wantErr: true,
		},
		{
			description: "missing server name",
			conf: Config{
				Domain: "example.com",
			},
			wantErr: true,
		},
		{
			description: "socks5 proxy is accepted",
			conf: Config{
				Domain:     "example.com",
				ServerName: "mail.example.com",
				Proxy:      "socks5://127.0.0.1:9050",
			},
		},
		{
			description: "socks4 proxy is rejected",
			conf: Config{
				Domain:     "example.com",
				ServerName: "mail.example.com",
				Proxy:      "socks4://127.0.0.1:1080",
			},
			wantErr: true,
		},
		{
			description: "nonsense smtp port",
			conf: Config{
				Domain:     "example.com",
				ServerName: "mail.example.com",
				SMTPPort:   70000,
			},
			wantErr: true,
		},
		{
			description: "negative delivery cap",
			conf: Config{
				Domain:        "example.com",
				ServerName:    "mail.example.com",
				MaxConcurrent: -2,
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			if _, err := tc.conf.CheckAndSetDefaults(); (err != nil) != tc.wantErr {
				t.Fatalf("wantErr = %v but got %v with err %v", tc.wantErr, err != nil, err)
			}
		})
	}
}

func TestCheckAndSetDefaultsFillsDefaults(t *testing.T) {
	conf := Config{
		Domain:     "example.com",
		ServerName: "mail.example.com",
	}
	c, err := conf.CheckAndSetDefaults()
	if err != nil {
		t.Fatal(err)
	}

	if c.DefUsername != "mailserver" {
		t.Errorf("expected the default sender username, got %q", c.DefUsername)
	}
	if c.SMTPPort != 25 {
		t.Errorf("expected port 25, got %v", c.SMTPPort)
	}
	if c.ConnectTimeout != time.Duration(5)*time.Second {
		t.Errorf("expected a 5s connect timeout, got %v", c.ConnectTimeout)
	}
	if c.SendTimeout != time.Duration(30)*time.Second {
		t.Errorf("expected a 30s send timeout, got %v", c.SendTimeout)
	}
	if c.DKIMSelector != "mail" {
		t.Errorf("expected the default selector, got %q", c.DKIMSelector)
	}
	if c.MaxConcurrent != 8 {
		t.Errorf("expected 8 concurrent deliveries, got %v", c.MaxConcurrent)
	}
}

func TestCheckAndSetDefaultsProbesDKIMKey(t *testing.T) {
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	goodPath := filepath.Join(dir, "good.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(goodPath, pemBytes, 0600); err != nil {
		t.Fatal(err)
	}

	badPath := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(badPath, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}

	conf := Config{
		Domain:      "example.com",
		ServerName:  "mail.example.com",
		DKIMKeyPath: goodPath,
	}
	if _, err := conf.CheckAndSetDefaults(); err != nil {
		t.Errorf("expected a valid key to pass the probe, got: %v", err)
	}

	conf.DKIMKeyPath = badPath
	if _, err := conf.CheckAndSetDefaults(); err == nil {
		t.Error("expected garbage key material to fail the probe")
	}

	conf.DKIMKeyPath = filepath.Join(dir, "missing.pem")
	if _, err := conf.CheckAndSetDefaults(); err == nil {
		t.Error("expected a missing key file to fail the probe")
	}
}

func TestConfigUnmarshalYAML(t *testing.T) {
	blob := `
domain: example.com
serverName: mail.example.com
connectTimeout: 7s
sendTimeout: 2m
proxy: socks5://127.0.0.1:9050
maxConcurrent: 3
`
	var c Config
	if err := yaml.Unmarshal([]byte(blob), &c); err != nil {
		t.Fatalf("expected the config to parse, got: %v", err)
	}
	if c.Domain != "example.com" {
		t.Errorf("unexpected domain %q", c.Domain)
	}
	if c.ConnectTimeout != time.Duration(7)*time.Second {
		t.Errorf("expected a 7s connect timeout, got %v", c.ConnectTimeout)
	}
	if c.SendTimeout != time.Duration(2)*time.Minute {
		t.Errorf("expected a 2m send timeout, got %v", c.SendTimeout)
	}
	if c.MaxConcurrent != 3 {
		t.Errorf("expected 3 concurrent deliveries, got %v", c.MaxConcurrent)
	}

	var bad Config
	if err := yaml.Unmarshal([]byte("connectTimeout: quickly"), &bad); err == nil {
		t.Error("expected an unparseable duration to error")
	}
}
