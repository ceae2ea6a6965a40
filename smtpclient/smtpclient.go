package smtpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-smtp"
)

// Session is one SMTP conversation with a mail server. Callers drive it the
// way the protocol flows: Open, maybe StartTLS, Send, then Quit.
type Session struct {
	conn   net.Conn
	client *smtp.Client
}

// Open dials addr through d, waits out the server's greeting and introduces
// itself with EHLO as heloName. The deadline on ctx, if any, bounds every
// read and write for the rest of the session.
func Open(ctx context.Context, d ContextDialer, addr, heloName string) (*Session, error) {
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("no usable greeting from %v: %v", addr, err)
	}

	if err := c.Hello(heloName); err != nil {
		c.Close()
		return nil, err
	}

	return &Session{conn: conn, client: c}, nil
}

// TLSAvailable reports whether the server offered STARTTLS in its EHLO
// response.
func (s *Session) TLSAvailable() bool {
	ok, _ := s.client.Extension("STARTTLS")
	return ok
}

// StartTLS upgrades the connection. A nil config verifies the server
// certificate against the host we dialed; pass InsecureSkipVerify to talk
// to servers with self-signed identities.
func (s *Session) StartTLS(config *tls.Config) error {
	return s.client.StartTLS(config)
}

// Send hands one message to the server. The error comes back unwrapped so
// callers can pick apart the server's SMTP reply with Permanent.
func (s *Session) Send(from, to string, msg []byte) error {
	if err := s.client.Mail(from, nil); err != nil {
		return err
	}
	if err := s.client.Rcpt(to); err != nil {
		return err
	}
	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	// Close sends the final dot and reads the server's verdict.
	return w.Close()
}

// Quit ends the session politely and closes the connection.
func (s *Session) Quit() error {
	return s.client.Quit()
}

// Close drops the connection without the QUIT exchange.
func (s *Session) Close() error {
	return s.client.Close()
}

// Permanent reports whether err is a definitive SMTP rejection (a 5xx
// reply), meaning the same message will be refused again no matter which
// server we try.
func Permanent(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code/100 == 5
	}
	return false
}
