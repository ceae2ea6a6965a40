package smtptest

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// messageData includes the envelope, body content and created timestamp for
// an email message, allowing us to inspect messages sent before/after a
// timestamp for correctness.
type messageData struct {
	created time.Time
	from    string
	rcpts   []string
	body    string
}

// Backend implements smtp.Backend. It's a thin wrapper for an
// InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
}

// Login implements smtp.Backend. Any username/password is fine, since we
// don't want to couple this with specific test configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	return be.InMemoryEmailStore, nil
}

// AnonymousLogin implements smtp.Backend. Server-to-server mail on port 25
// never authenticates, so anonymous sessions get the store too.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return be.InMemoryEmailStore, nil
}

// InMemoryEmailStore retains email envelopes and bodies in memory for
// comparison against a test's expected output. Implements smtp.Session.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu        *sync.Mutex
	from      string
	rcpts     []string
	rejection *smtp.SMTPError
	messages  []messageData
}

// Reset implements smtp.Session. Drops the envelope collected so far.
func (es *InMemoryEmailStore) Reset() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.from = ""
	es.rcpts = nil
}

// Logout implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Logout() error { return nil }

// Mail implements smtp.Session. Starts a fresh envelope.
func (es *InMemoryEmailStore) Mail(from string, _ smtp.MailOptions) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.from = from
	es.rcpts = nil
	return nil
}

// Rcpt implements smtp.Session. Collects the recipient, or refuses it when
// a test asked for rejections.
func (es *InMemoryEmailStore) Rcpt(to string) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.rejection != nil {
		return es.rejection
	}
	es.rcpts = append(es.rcpts, to)
	return nil
}

// Data implements smtp.Session. Stores the email in memory for retrieval
// at the end of the test.
func (es *InMemoryEmailStore) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}
	es.saveEmail(string(buf))
	return nil
}

// RejectRcpt makes the server refuse every recipient from now on with the
// given SMTP code, for exercising bounce handling in tests.
func (es *InMemoryEmailStore) RejectRcpt(code int, message string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.rejection = &smtp.SMTPError{
		Code:         code,
		EnhancedCode: smtp.EnhancedCode{code / 100, 1, 1},
		Message:      message,
	}
}

// InProcessServer is an SMTPServer that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	// We're also using this as an smtp.Session, i.e., the Backend of the
	// *smtp.Server. This is kind of gross, but allows us to access the
	// *InMemoryEmailStore. Otherwise, we're stuck with *smtp.Server.Backend,
	// which just leaves us with the Backend interface methods.
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer on an ephemeral localhost
// port, including configuring its SMTP server to store incoming messages in
// memory. Provide the paths to a key and root cert to advertise STARTTLS, or
// empty strings for a plaintext-only server.
func NewInProcessServer(keypath string, certpath string) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []messageData{},
	}

	srv := smtp.NewServer(&Backend{
		is,
	})

	srv.Domain = "localhost"
	// Deliveries arrive the way another mail server would make them, so
	// don't ask for AUTH.
	srv.AuthDisabled = true
	// Strict is undocumented, but it looks like it enforces <address> syntax
	// in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	if keypath != "" || certpath != "" {
		cert, err := tls.LoadX509KeyPair(certpath, keypath)

		// No way to carry on without a cert, so we panic. We're in a test
		// suite, so this should be fine.
		if err != nil {
			panic(err)
		}

		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	srv.Addr = ln.Addr().String()

	ip := &InProcessServer{
		srv,
		is,
		ln,
	}

	return ip, nil
}

// saveEmail stores the email with its envelope and a timestamp created
// just prior to saving.
func (es *InMemoryEmailStore) saveEmail(bod string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.messages = append(es.messages, messageData{
		created: time.Now(),
		from:    es.from,
		rcpts:   append([]string(nil), es.rcpts...),
		body:    bod,
	})
}

// Start serves SMTP on the listener prepared by NewInProcessServer.
// Blocking.
func (is *InProcessServer) Start() error {
	// Not using TLS on the listener itself--the client should upgrade the
	// connection with STARTTLS
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	is.listener.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t.
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.body)
		}
	}
	return r, nil
}

// Envelope is one accepted message along with who it was from and to.
type Envelope struct {
	From       string
	Recipients []string
	Body       string
}

// RetrieveEnvelopes returns all messages sent after epoch nanoseconds t
// with their SMTP envelopes intact.
func (es *InMemoryEmailStore) RetrieveEnvelopes(t int64) []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Envelope, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, Envelope{
				From:       m.from,
				Recipients: append([]string(nil), m.rcpts...),
				Body:       m.body,
			})
		}
	}
	return r
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.Server.Addr
}
