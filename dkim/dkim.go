package dkim

import (
	"bytes"
	"fmt"
	"os"

	godkim "github.com/toorop/go-dkim"
)

// signedHeaders lists the header fields folded into each signature. Keep
// this to headers the message builder always emits: signing a header that
// later turns out absent weakens nothing, but signing one a relay is known
// to rewrite breaks verification downstream.
var signedHeaders = []string{
	"from",
	"to",
	"subject",
	"date",
	"message-id",
	"mime-version",
	"content-type",
}

// Signer signs messages on behalf of one domain. Use New or NewFromFile;
// the zero value can't sign anything.
type Signer struct {
	domain   string
	selector string
	key      []byte
}

// New returns a Signer for domain using the PEM-encoded RSA private key in
// key. It signs a probe message before returning so an unusable key fails
// loudly at startup instead of during the first delivery.
func New(domain, selector string, key []byte) (*Signer, error) {
	if domain == "" {
		return nil, fmt.Errorf("can't set up DKIM signing without a domain")
	}
	if selector == "" {
		return nil, fmt.Errorf("can't set up DKIM signing without a selector")
	}
	s := &Signer{
		domain:   domain,
		selector: selector,
		key:      key,
	}
	probe := []byte(
		"From: probe@" + domain + "\r\n" +
			"To: probe@" + domain + "\r\n" +
			"Subject: probe\r\n" +
			"\r\n" +
			"probe\r\n")
	if _, err := s.Sign(probe); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromFile is New with the key read from the file at path.
func NewFromFile(domain, selector, path string) (*Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read the DKIM key: %v", err)
	}
	return New(domain, selector, key)
}

// Domain returns the signing domain.
func (s *Signer) Domain() string { return s.domain }

// Selector returns the DNS selector the public key lives under.
func (s *Signer) Selector() string { return s.selector }

// Sign returns a copy of raw with a DKIM-Signature header prepended. raw
// must be a complete message with CRLF line endings and stays unmodified.
func (s *Signer) Sign(raw []byte) ([]byte, error) {
	// go-dkim prepends the header in place, so give it a copy.
	msg := bytes.Clone(raw)
	opts := godkim.NewSigOptions()
	opts.PrivateKey = s.key
	opts.Domain = s.domain
	opts.Selector = s.selector
	// Relaxed for headers so downstream whitespace munging is harmless,
	// simple for the body since we control it end to end.
	opts.Canonicalization = "relaxed/simple"
	opts.Headers = signedHeaders
	if err := godkim.Sign(&msg, opts); err != nil {
		return nil, fmt.Errorf("can't sign the message: %v", err)
	}
	return msg, nil
}
